// Пакет calclient — HTTP-клиент Calendar Service.
// Поддерживает TLS с кастомным CA (PM_CALENDAR_CA_CERT_PATH) и
// инкрементальный листинг событий по sync-токену.
package calclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ошибки клиента.
var (
	// ErrNotFound — событие не найдено (HTTP 404).
	ErrNotFound = errors.New("событие не найдено")
	// ErrSyncTokenExpired — sync-токен инвалидирован сервисом (HTTP 410).
	ErrSyncTokenExpired = errors.New("sync-токен устарел")
)

// EventTime — время начала или окончания события.
// Заполняется либо Date (событие на весь день), либо DateTime.
type EventTime struct {
	// Дата в формате YYYY-MM-DD (событие на весь день)
	Date string `json:"date,omitempty"`
	// Время в формате RFC3339
	DateTime string `json:"dateTime,omitempty"`
}

// Event — событие Calendar Service.
type Event struct {
	ID          string     `json:"id,omitempty"`
	Status      string     `json:"status,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	Start       *EventTime `json:"start,omitempty"`
	End         *EventTime `json:"end,omitempty"`
	// GuestsCanModify — участники могут редактировать событие.
	GuestsCanModify bool   `json:"guestsCanModify,omitempty"`
	Updated         string `json:"updated,omitempty"`
}

// IsCancelled сообщает, отменено ли событие.
func (e *Event) IsCancelled() bool {
	return e.Status == "cancelled"
}

// ListOptions — параметры листинга событий.
// SyncToken и остальные фильтры взаимоисключающие: при непустом
// SyncToken сервис игнорирует UpdatedMin.
type ListOptions struct {
	SyncToken   string
	PageToken   string
	UpdatedMin  time.Time
	MaxResults  int
	ShowDeleted bool
}

// EventList — страница листинга событий.
type EventList struct {
	Items []Event `json:"items"`
	// Токен следующей страницы; пустой — страниц больше нет
	NextPageToken string `json:"nextPageToken,omitempty"`
	// Токен для следующего инкрементального прохода;
	// присутствует только на последней странице
	NextSyncToken string `json:"nextSyncToken,omitempty"`
}

// Client — HTTP-клиент Calendar Service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент Calendar Service.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// token — статический Bearer-токен (пустая строка — без авторизации).
func New(baseURL, token, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Calendar Service: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат Calendar Service добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "calendar_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// eventURL формирует URL события.
func (c *Client) eventURL(calendarID, eventID string) string {
	return fmt.Sprintf("%s/api/v1/calendars/%s/events/%s",
		c.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
}

// eventsURL формирует URL коллекции событий календаря.
func (c *Client) eventsURL(calendarID string) string {
	return fmt.Sprintf("%s/api/v1/calendars/%s/events",
		c.baseURL, url.PathEscape(calendarID))
}

// do выполняет запрос с авторизацией и декодирует ответ в out.
func (c *Client) do(ctx context.Context, method, reqURL string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("сериализация тела запроса: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", method, reqURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusGone:
		return ErrSyncTokenExpired
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(resp.Body)
		// Некоторые реализации отвечают 400 с текстом об устаревшем токене
		if strings.Contains(strings.ToLower(string(respBody)), "sync token") {
			return ErrSyncTokenExpired
		}
		return fmt.Errorf("Calendar Service вернул статус %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("декодирование ответа: %w", err)
		}
	}
	return nil
}

// Get возвращает событие по идентификатору.
func (c *Client) Get(ctx context.Context, calendarID, eventID string) (*Event, error) {
	var event Event
	if err := c.do(ctx, http.MethodGet, c.eventURL(calendarID, eventID), nil, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Insert создаёт событие в календаре и возвращает его с присвоенным id.
func (c *Client) Insert(ctx context.Context, calendarID string, event *Event) (*Event, error) {
	var created Event
	if err := c.do(ctx, http.MethodPost, c.eventsURL(calendarID), event, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Patch частично обновляет событие.
func (c *Client) Patch(ctx context.Context, calendarID, eventID string, event *Event) (*Event, error) {
	var updated Event
	if err := c.do(ctx, http.MethodPatch, c.eventURL(calendarID, eventID), event, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete удаляет событие. Отсутствующее событие — ErrNotFound.
func (c *Client) Delete(ctx context.Context, calendarID, eventID string) error {
	return c.do(ctx, http.MethodDelete, c.eventURL(calendarID, eventID), nil, nil)
}

// List возвращает страницу событий календаря.
// При устаревшем sync-токене возвращает ErrSyncTokenExpired.
func (c *Client) List(ctx context.Context, calendarID string, opts ListOptions) (*EventList, error) {
	query := url.Values{}
	if opts.SyncToken != "" {
		query.Set("syncToken", opts.SyncToken)
	} else if !opts.UpdatedMin.IsZero() {
		query.Set("updatedMin", opts.UpdatedMin.UTC().Format(time.RFC3339))
	}
	if opts.PageToken != "" {
		query.Set("pageToken", opts.PageToken)
	}
	if opts.MaxResults > 0 {
		query.Set("maxResults", strconv.Itoa(opts.MaxResults))
	}
	if opts.ShowDeleted {
		query.Set("showDeleted", "true")
	}

	reqURL := c.eventsURL(calendarID)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var list EventList
	if err := c.do(ctx, http.MethodGet, reqURL, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CheckReady проверяет доступность Calendar Service.
// Реализует handlers.ReadinessChecker. Достаточно любого HTTP-ответа:
// проверяется сетевая доступность, а не конкретный endpoint.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return "fail", fmt.Sprintf("Calendar Service: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Calendar Service недоступен: %v", err)
	}
	resp.Body.Close()

	return "ok", "Calendar Service доступен"
}
