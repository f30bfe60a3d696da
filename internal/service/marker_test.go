// marker_test.go — тесты разбора и аннотирования маркера передачи.
package service

import (
	"strings"
	"testing"
)

// TestParseTransferMarker проверяет разбор маркера в описании события.
func TestParseTransferMarker(t *testing.T) {
	tests := []struct {
		name          string
		description   string
		wantNil       bool
		wantName      string
		wantAnnotated bool
	}{
		{
			name:        "описание без маркера",
			description: "Клиент: ООО Ромашка\nАдрес: Москва",
			wantNil:     true,
		},
		{
			name:        "незаполненный шаблон",
			description: "Клиент: ООО Ромашка\n\nПередать исполнителю: «»\n",
			wantName:    "",
		},
		{
			name:        "заполненный маркер",
			description: "Передать исполнителю: «Петров»",
			wantName:    "Петров",
		},
		{
			name:        "имя с пробелами по краям",
			description: "Передать исполнителю: « Петров »",
			wantName:    "Петров",
		},
		{
			name:          "маркер уже обработан",
			description:   "Передать исполнителю: «Петров» → обработано",
			wantName:      "Петров",
			wantAnnotated: true,
		},
		{
			name:          "маркер с ошибкой",
			description:   "Передать исполнителю: «Неизвестный» → ошибка",
			wantName:      "Неизвестный",
			wantAnnotated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := parseTransferMarker(tt.description)
			if tt.wantNil {
				if m != nil {
					t.Fatalf("parseTransferMarker() = %+v, ожидается nil", m)
				}
				return
			}
			if m == nil {
				t.Fatal("parseTransferMarker() = nil, ожидается маркер")
			}
			if m.Name != tt.wantName {
				t.Errorf("Name = %q, ожидается %q", m.Name, tt.wantName)
			}
			if m.Annotated != tt.wantAnnotated {
				t.Errorf("Annotated = %v, ожидается %v", m.Annotated, tt.wantAnnotated)
			}
		})
	}
}

// TestAnnotateMarker проверяет переписывание маркера с аннотацией.
func TestAnnotateMarker(t *testing.T) {
	description := "Клиент: ООО Ромашка\n\nПередать исполнителю: «Петров»\n\nЗапись: abc"

	annotated := annotateMarker(description, "Петров", markerProcessed)
	if !strings.Contains(annotated, "Передать исполнителю: «Петров» → обработано") {
		t.Errorf("в описании нет аннотированного маркера: %q", annotated)
	}
	if !strings.Contains(annotated, "Клиент: ООО Ромашка") || !strings.Contains(annotated, "Запись: abc") {
		t.Error("аннотация повредила остальное описание")
	}

	// Аннотированный маркер повторно не обрабатывается
	if m := parseTransferMarker(annotated); m == nil || !m.Annotated {
		t.Errorf("после аннотации маркер должен быть Annotated, получено %+v", m)
	}
}

// TestAnnotateMarker_ReplacesOldAnnotation проверяет, что старая
// аннотация заменяется, а не накапливается.
func TestAnnotateMarker_ReplacesOldAnnotation(t *testing.T) {
	description := "Передать исполнителю: «Иванов» → ошибка"

	annotated := annotateMarker(description, "Петров", markerProcessed)
	if annotated != "Передать исполнителю: «Петров» → обработано" {
		t.Errorf("annotateMarker() = %q", annotated)
	}
}
