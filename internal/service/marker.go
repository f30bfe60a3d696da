// marker.go — текстовый маркер передачи исполнителю в описании события.
//
// Описание каждого события содержит строку вида
//
//	Передать исполнителю: «»
//
// Человек, редактируя событие прямо в календаре, вписывает имя нового
// исполнителя между кавычками. Синхронизация находит маркер, выполняет
// передачу и аннотирует маркер результатом:
//
//	Передать исполнителю: «Петров» → обработано
//	Передать исполнителю: «Неизвестный» → ошибка
//
// Аннотированный маркер повторно не обрабатывается.
package service

import (
	"fmt"
	"regexp"
	"strings"
)

// Аннотации маркера.
const (
	markerProcessed = "обработано"
	markerError     = "ошибка"
)

// markerRe находит маркер передачи вместе с возможной аннотацией.
var markerRe = regexp.MustCompile(`Передать исполнителю:\s*«([^»]*)»(?:\s*→\s*(обработано|ошибка))?`)

// emptyMarkerLine — строка шаблона, добавляемая в описание при регистрации.
const emptyMarkerLine = "Передать исполнителю: «»"

// transferMarker — разобранный маркер передачи.
type transferMarker struct {
	// Имя нового исполнителя; пустое — шаблон не заполнен
	Name string
	// Маркер уже аннотирован (обработан или с ошибкой)
	Annotated bool
}

// parseTransferMarker извлекает маркер передачи из описания.
// Возвращает nil, если маркера нет.
func parseTransferMarker(description string) *transferMarker {
	match := markerRe.FindStringSubmatch(description)
	if match == nil {
		return nil
	}
	return &transferMarker{
		Name:      strings.TrimSpace(match[1]),
		Annotated: match[2] != "",
	}
}

// annotateMarker переписывает маркер (вместе со старой аннотацией,
// если была) с именем name и аннотацией annotation. Сам маркер
// остаётся машиночитаемым.
func annotateMarker(description, name, annotation string) string {
	replacement := fmt.Sprintf("Передать исполнителю: «%s» → %s", name, annotation)
	return markerRe.ReplaceAllString(description, replacement)
}
