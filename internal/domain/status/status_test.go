package status

import "testing"

// TestCompletion проверяет таблицу переходов процессора.
func TestCompletion(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		want    Status
		pending bool
	}{
		{"регистрация", CalendarRegister, CalendarComplete, true},
		{"обновление", ResyncRegister, ResyncComplete, true},
		{"отмена", CancelRegister, CancelComplete, true},
		{"смена исполнителя", AssigneeChangeRegister, ResyncComplete, true},
		{"не обработано", Unhandled, "", false},
		{"отложено", Hold, "", false},
		{"в календаре", CalendarComplete, "", false},
		{"ошибка", Error, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.status.Completion()
			if ok != tt.pending {
				t.Errorf("Completion() ok = %v, ожидается %v", ok, tt.pending)
			}
			if got != tt.want {
				t.Errorf("Completion() = %q, ожидается %q", got, tt.want)
			}
			if tt.status.IsPending() != tt.pending {
				t.Errorf("IsPending() = %v, ожидается %v", tt.status.IsPending(), tt.pending)
			}
		})
	}
}

// TestIsCancelled проверяет терминальные статусы отмены.
func TestIsCancelled(t *testing.T) {
	cancelled := []Status{CancelComplete, CalendarDeleted}
	for _, s := range cancelled {
		if !s.IsCancelled() {
			t.Errorf("IsCancelled(%q) = false, ожидается true", s)
		}
	}

	notCancelled := []Status{Unhandled, Hold, CalendarComplete, CancelRegister, Error}
	for _, s := range notCancelled {
		if s.IsCancelled() {
			t.Errorf("IsCancelled(%q) = true, ожидается false", s)
		}
	}
}

// TestCanRequest проверяет матрицу допустимых запросов оператора.
func TestCanRequest(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		target  Status
		want    bool
	}{
		{"регистрация из нового", Unhandled, CalendarRegister, true},
		{"регистрация из отложенного", Hold, CalendarRegister, true},
		{"повторная регистрация после отмены", CancelComplete, CalendarRegister, true},
		{"регистрация из ошибки", Error, CalendarRegister, true},
		{"регистрация поверх очереди регистрации", CalendarRegister, CalendarRegister, false},
		{"регистрация поверх очереди отмены", CancelRegister, CalendarRegister, false},
		{"обновление из календаря", CalendarComplete, ResyncRegister, true},
		{"обновление поверх очереди", ResyncRegister, ResyncRegister, true},
		{"отмена из любого статуса", CalendarRegister, CancelRegister, true},
		{"смена исполнителя из календаря", CalendarComplete, AssigneeChangeRegister, true},
		{"квиесцентный статус не запрашивается", Unhandled, CalendarComplete, false},
		{"ошибка не запрашивается", CalendarComplete, Error, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanRequest(tt.current, tt.target); got != tt.want {
				t.Errorf("CanRequest(%q, %q) = %v, ожидается %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}

// TestParse проверяет разбор строковых значений статуса.
func TestParse(t *testing.T) {
	got, err := Parse("к регистрации")
	if err != nil {
		t.Fatalf("Parse() ошибка: %v", err)
	}
	if got != CalendarRegister {
		t.Errorf("Parse() = %q, ожидается %q", got, CalendarRegister)
	}

	if _, err := Parse("несуществующий статус"); err == nil {
		t.Error("Parse() для недопустимого значения должен вернуть ошибку")
	}
	if _, err := Parse(""); err == nil {
		t.Error("Parse(\"\") должен вернуть ошибку")
	}
}

// TestPending проверяет порядок ожидающих статусов.
func TestPending(t *testing.T) {
	want := []Status{CalendarRegister, ResyncRegister, CancelRegister, AssigneeChangeRegister}
	got := Pending()
	if len(got) != len(want) {
		t.Fatalf("Pending() длина = %d, ожидается %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Pending()[%d] = %q, ожидается %q", i, got[i], want[i])
		}
	}
}
