package calclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockCalendar создаёт mock HTTP-сервер Calendar Service.
func setupMockCalendar(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// newTestClient создаёт клиент для mock-сервера.
func newTestClient(t *testing.T, serverURL, token string) *Client {
	t.Helper()
	client, err := New(serverURL, token, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return client
}

// TestClient_Get проверяет Get события.
func TestClient_Get(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/calendars/cal-sidorov/events/evt123" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Event{
			ID:      "evt123",
			Status:  "confirmed",
			Summary: "Выезд: Иванов",
			Start:   &EventTime{DateTime: "2026-09-15T10:00:00+03:00"},
			End:     &EventTime{DateTime: "2026-09-15T12:00:00+03:00"},
		})
	})

	client := newTestClient(t, server.URL, "test-token")

	event, err := client.Get(context.Background(), "cal-sidorov", "evt123")
	if err != nil {
		t.Fatalf("Ошибка Get: %v", err)
	}
	if event.ID != "evt123" {
		t.Errorf("ожидался ID=evt123, получен %s", event.ID)
	}
	if event.Summary != "Выезд: Иванов" {
		t.Errorf("ожидался Summary=Выезд: Иванов, получен %s", event.Summary)
	}
	if event.IsCancelled() {
		t.Error("IsCancelled() = true для confirmed события")
	}
}

// TestClient_Get_NotFound проверяет 404 → ErrNotFound.
func TestClient_Get_NotFound(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client := newTestClient(t, server.URL, "")

	_, err := client.Get(context.Background(), "cal-a", "missing")
	if err != ErrNotFound {
		t.Errorf("Get(отсутствующий) = %v, ожидается ErrNotFound", err)
	}
}

// TestClient_Insert проверяет создание события.
func TestClient_Insert(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/calendars/cal-sidorov/events" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if event.Summary != "Выезд: Иванов" {
			t.Errorf("ожидался Summary=Выезд: Иванов, получен %s", event.Summary)
		}

		event.ID = "evt-new"
		event.Status = "confirmed"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(event)
	})

	client := newTestClient(t, server.URL, "")

	created, err := client.Insert(context.Background(), "cal-sidorov", &Event{
		Summary: "Выезд: Иванов",
		Start:   &EventTime{DateTime: "2026-09-15T10:00:00+03:00"},
		End:     &EventTime{DateTime: "2026-09-15T12:00:00+03:00"},
	})
	if err != nil {
		t.Fatalf("Ошибка Insert: %v", err)
	}
	if created.ID != "evt-new" {
		t.Errorf("ожидался ID=evt-new, получен %s", created.ID)
	}
}

// TestClient_Patch проверяет частичное обновление события.
func TestClient_Patch(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		event.ID = "evt123"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(event)
	})

	client := newTestClient(t, server.URL, "")

	updated, err := client.Patch(context.Background(), "cal-a", "evt123", &Event{
		Description: "обновлённое описание",
	})
	if err != nil {
		t.Fatalf("Ошибка Patch: %v", err)
	}
	if updated.Description != "обновлённое описание" {
		t.Errorf("Description = %q", updated.Description)
	}
}

// TestClient_Delete проверяет удаление события.
func TestClient_Delete(t *testing.T) {
	deleted := false
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/api/v1/calendars/cal-a/events/evt123" {
			deleted = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client := newTestClient(t, server.URL, "")

	if err := client.Delete(context.Background(), "cal-a", "evt123"); err != nil {
		t.Fatalf("Ошибка Delete: %v", err)
	}
	if !deleted {
		t.Error("DELETE-запрос не дошёл до сервера")
	}

	// Отсутствующее событие
	if err := client.Delete(context.Background(), "cal-a", "missing"); err != ErrNotFound {
		t.Errorf("Delete(отсутствующий) = %v, ожидается ErrNotFound", err)
	}
}

// TestClient_List проверяет листинг с параметрами.
func TestClient_List(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("syncToken") != "token-1" {
			t.Errorf("ожидался syncToken=token-1, получен %s", q.Get("syncToken"))
		}
		if q.Get("maxResults") != "250" {
			t.Errorf("ожидался maxResults=250, получен %s", q.Get("maxResults"))
		}
		if q.Get("showDeleted") != "true" {
			t.Errorf("ожидался showDeleted=true, получен %s", q.Get("showDeleted"))
		}
		// При syncToken updatedMin не передаётся
		if q.Get("updatedMin") != "" {
			t.Errorf("updatedMin не должен передаваться вместе с syncToken")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EventList{
			Items: []Event{
				{ID: "evt1", Status: "confirmed"},
				{ID: "evt2", Status: "cancelled"},
			},
			NextSyncToken: "token-2",
		})
	})

	client := newTestClient(t, server.URL, "")

	list, err := client.List(context.Background(), "cal-a", ListOptions{
		SyncToken:   "token-1",
		UpdatedMin:  time.Now(),
		MaxResults:  250,
		ShowDeleted: true,
	})
	if err != nil {
		t.Fatalf("Ошибка List: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("ожидалось 2 события, получено %d", len(list.Items))
	}
	if !list.Items[1].IsCancelled() {
		t.Error("IsCancelled() = false для cancelled события")
	}
	if list.NextSyncToken != "token-2" {
		t.Errorf("NextSyncToken = %q, ожидается token-2", list.NextSyncToken)
	}
}

// TestClient_List_UpdatedMin проверяет lookback-режим листинга.
func TestClient_List_UpdatedMin(t *testing.T) {
	updatedMin := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("updatedMin") != "2026-08-01T00:00:00Z" {
			t.Errorf("updatedMin = %q, ожидается 2026-08-01T00:00:00Z", q.Get("updatedMin"))
		}
		if q.Get("syncToken") != "" {
			t.Error("syncToken не должен передаваться в lookback-режиме")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(EventList{NextSyncToken: "fresh-token"})
	})

	client := newTestClient(t, server.URL, "")

	list, err := client.List(context.Background(), "cal-a", ListOptions{UpdatedMin: updatedMin})
	if err != nil {
		t.Fatalf("Ошибка List: %v", err)
	}
	if list.NextSyncToken != "fresh-token" {
		t.Errorf("NextSyncToken = %q, ожидается fresh-token", list.NextSyncToken)
	}
}

// TestClient_List_Pagination проверяет переход по pageToken.
func TestClient_List_Pagination(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(EventList{
				Items:         []Event{{ID: "evt1"}},
				NextPageToken: "page-2",
			})
			return
		}
		json.NewEncoder(w).Encode(EventList{
			Items:         []Event{{ID: "evt2"}},
			NextSyncToken: "token-next",
		})
	})

	client := newTestClient(t, server.URL, "")
	ctx := context.Background()

	page1, err := client.List(ctx, "cal-a", ListOptions{})
	if err != nil {
		t.Fatalf("Ошибка первой страницы: %v", err)
	}
	if page1.NextPageToken != "page-2" {
		t.Fatalf("NextPageToken = %q, ожидается page-2", page1.NextPageToken)
	}

	page2, err := client.List(ctx, "cal-a", ListOptions{PageToken: page1.NextPageToken})
	if err != nil {
		t.Fatalf("Ошибка второй страницы: %v", err)
	}
	if page2.NextSyncToken != "token-next" {
		t.Errorf("NextSyncToken = %q, ожидается token-next", page2.NextSyncToken)
	}
}

// TestClient_List_SyncTokenExpired проверяет 410 → ErrSyncTokenExpired.
func TestClient_List_SyncTokenExpired(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	client := newTestClient(t, server.URL, "")

	_, err := client.List(context.Background(), "cal-a", ListOptions{SyncToken: "stale"})
	if err != ErrSyncTokenExpired {
		t.Errorf("List(устаревший токен) = %v, ожидается ErrSyncTokenExpired", err)
	}
}

// TestClient_List_SyncTokenExpiredMessage проверяет 400 с текстом об
// устаревшем токене.
func TestClient_List_SyncTokenExpiredMessage(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"INVALID_TOKEN","message":"Sync token no longer valid"}}`))
	})

	client := newTestClient(t, server.URL, "")

	_, err := client.List(context.Background(), "cal-a", ListOptions{SyncToken: "stale"})
	if err != ErrSyncTokenExpired {
		t.Errorf("List(устаревший токен, 400) = %v, ожидается ErrSyncTokenExpired", err)
	}
}

// TestClient_Unreachable проверяет недоступный Calendar Service.
func TestClient_Unreachable(t *testing.T) {
	client := newTestClient(t, "http://localhost:1", "")

	_, err := client.Get(context.Background(), "cal-a", "evt1")
	if err == nil {
		t.Fatal("ожидалась ошибка, получен nil")
	}
}

// TestClient_EscapesIDs проверяет экранирование идентификаторов в URL.
// Слэш в сегменте пути экранируется, символ @ в сегменте допустим
// и остаётся как есть.
func TestClient_EscapesIDs(t *testing.T) {
	server := setupMockCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v1/calendars/cal%2Fa/events/evt@calendar.local" {
			t.Errorf("путь = %q, идентификаторы не экранированы", r.URL.EscapedPath())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Event{ID: "evt@calendar.local"})
	})

	client := newTestClient(t, server.URL, "")

	if _, err := client.Get(context.Background(), "cal/a", "evt@calendar.local"); err != nil {
		t.Fatalf("Ошибка Get: %v", err)
	}
}
