// service_test.go — общие фейки внешних зависимостей для тестов пакета.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/pickup-module/internal/calclient"
	"github.com/arturkryukov/pickup-module/internal/domain/model"
	"github.com/arturkryukov/pickup-module/internal/domain/status"
	"github.com/arturkryukov/pickup-module/internal/kvstore"
	"github.com/arturkryukov/pickup-module/internal/repository"
	"github.com/arturkryukov/pickup-module/internal/runlock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRecordRepo — репозиторий записей в памяти, порядок создания сохраняется.
type fakeRecordRepo struct {
	mu          sync.Mutex
	records     []*model.Record
	updateErr   error
	updateCalls int
}

func (f *fakeRecordRepo) add(rec *model.Record) *model.Record {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	f.records = append(f.records, rec)
	return rec
}

func (f *fakeRecordRepo) Create(ctx context.Context, rec *model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(rec)
	return nil
}

func (f *fakeRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRecordRepo) List(ctx context.Context, filters repository.RecordListFilters, limit, offset int) ([]*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Record(nil), f.records...), nil
}

func (f *fakeRecordRepo) Count(ctx context.Context, filters repository.RecordListFilters) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeRecordRepo) ListPending(ctx context.Context, limit int) ([]*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Record
	for _, rec := range f.records {
		if rec.Status.IsPending() {
			result = append(result, rec)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (f *fakeRecordRepo) ListLinked(ctx context.Context) ([]*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.Record
	for _, rec := range f.records {
		if rec.CalendarEventID != "" {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (f *fakeRecordRepo) DistinctCalendarIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var result []string
	for _, rec := range f.records {
		if rec.CalendarID != "" && rec.CalendarEventID != "" && !seen[rec.CalendarID] {
			seen[rec.CalendarID] = true
			result = append(result, rec.CalendarID)
		}
	}
	return result, nil
}

func (f *fakeRecordRepo) Update(ctx context.Context, rec *model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, existing := range f.records {
		if existing.ID == rec.ID {
			f.records[i] = rec
			return nil
		}
	}
	return repository.ErrNotFound
}

// fakeCalendar — клиент календаря в памяти с инъекцией ошибок.
type fakeCalendar struct {
	mu     sync.Mutex
	events map[string]map[string]*calclient.Event // calendarID → eventID → event

	getErr    error
	insertErr error
	patchErr  error
	deleteErr error
	listFn    func(calendarID string, opts calclient.ListOptions) (*calclient.EventList, error)

	inserted []string // календари, в которые вставлялись события
	deleted  []string // "календарь/событие"
	patched  []string
	nextID   int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: map[string]map[string]*calclient.Event{}}
}

func (f *fakeCalendar) put(calendarID string, ev *calclient.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events[calendarID] == nil {
		f.events[calendarID] = map[string]*calclient.Event{}
	}
	f.events[calendarID][ev.ID] = ev
}

func (f *fakeCalendar) Get(ctx context.Context, calendarID, eventID string) (*calclient.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	ev, ok := f.events[calendarID][eventID]
	if !ok {
		return nil, calclient.ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

func (f *fakeCalendar) Insert(ctx context.Context, calendarID string, event *calclient.Event) (*calclient.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	inserted := *event
	inserted.ID = fmt.Sprintf("ev-%d", f.nextID)
	if f.events[calendarID] == nil {
		f.events[calendarID] = map[string]*calclient.Event{}
	}
	f.events[calendarID][inserted.ID] = &inserted
	f.inserted = append(f.inserted, calendarID)
	return &inserted, nil
}

func (f *fakeCalendar) Patch(ctx context.Context, calendarID, eventID string, event *calclient.Event) (*calclient.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return nil, f.patchErr
	}
	existing, ok := f.events[calendarID][eventID]
	if !ok {
		return nil, calclient.ErrNotFound
	}
	if event.Description != "" {
		existing.Description = event.Description
	}
	if event.Start != nil {
		existing.Start = event.Start
	}
	if event.End != nil {
		existing.End = event.End
	}
	f.patched = append(f.patched, calendarID+"/"+eventID)
	copied := *existing
	return &copied, nil
}

func (f *fakeCalendar) Delete(ctx context.Context, calendarID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.events[calendarID][eventID]; !ok {
		return calclient.ErrNotFound
	}
	delete(f.events[calendarID], eventID)
	f.deleted = append(f.deleted, calendarID+"/"+eventID)
	return nil
}

func (f *fakeCalendar) List(ctx context.Context, calendarID string, opts calclient.ListOptions) (*calclient.EventList, error) {
	if f.listFn != nil {
		return f.listFn(calendarID, opts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &calclient.EventList{NextSyncToken: "token-" + calendarID}
	for _, ev := range f.events[calendarID] {
		copied := *ev
		list.Items = append(list.Items, copied)
	}
	return list, nil
}

// fakeResolver — справочник исполнителей в памяти.
type fakeResolver struct {
	byName map[string]string // имя → календарь
	byCal  map[string]string // календарь → имя
	err    error
}

func (f *fakeResolver) ResolveCalendarID(ctx context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.byName[name], nil
}

func (f *fakeResolver) ResolveName(ctx context.Context, calendarID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.byCal[calendarID], nil
}

// notification — одно зафиксированное уведомление.
type notification struct {
	channel string
	kind    string
	text    string
}

// fakeNotifier фиксирует отправленные уведомления.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(ctx context.Context, channel, kind, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{channel: channel, kind: kind, text: text})
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []string
	for _, n := range f.sent {
		result = append(result, n.kind)
	}
	return result
}

// passGuard выполняет fn без блокировки.
type passGuard struct{}

func (passGuard) Run(ctx context.Context, name string, key int64, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyGuard имитирует занятую блокировку.
type busyGuard struct{}

func (busyGuard) Run(ctx context.Context, name string, key int64, fn func(ctx context.Context) error) error {
	return runlock.ErrBusy
}

// keyGuard запоминает ключи локов, под которыми выполнялись проходы.
type keyGuard struct {
	keys []int64
}

func (g *keyGuard) Run(ctx context.Context, name string, key int64, fn func(ctx context.Context) error) error {
	g.keys = append(g.keys, key)
	return fn(ctx)
}

// testEnv — собранный набор фейков для одного теста.
type testEnv struct {
	records  *fakeRecordRepo
	calendar *fakeCalendar
	resolver *fakeResolver
	notifier *fakeNotifier
}

func newTestEnv() *testEnv {
	return &testEnv{
		records:  &fakeRecordRepo{},
		calendar: newFakeCalendar(),
		resolver: &fakeResolver{
			byName: map[string]string{"Петров": "cal-petrov", "Сидорова": "cal-sidorova"},
			byCal:  map[string]string{"cal-petrov": "Петров", "cal-sidorova": "Сидорова"},
		},
		notifier: &fakeNotifier{},
	}
}

func (e *testEnv) newProcessor(maxPerRun int) *Processor {
	return NewProcessor(e.records, e.calendar, e.resolver, e.notifier, passGuard{}, maxPerRun, time.Minute, testLogger())
}

func (e *testEnv) newSync(opts SyncOptions, kv kvstore.Store) *SyncEngine {
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	if opts.LookbackDays == 0 {
		opts.LookbackDays = 30
	}
	if opts.MaxCalendars == 0 {
		opts.MaxCalendars = 20
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = 3
	}
	if opts.MaxEvents == 0 {
		opts.MaxEvents = 500
	}
	if opts.PageSize == 0 {
		opts.PageSize = 250
	}
	if opts.EventIDSuffix == "" {
		opts.EventIDSuffix = "@calendar.local"
	}
	return NewSyncEngine(e.records, e.calendar, e.resolver, e.notifier, kv, passGuard{}, opts, testLogger())
}

// scheduledRecord создаёт запись с заполненным расписанием.
func scheduledRecord(st status.Status) *model.Record {
	date := time.Date(2026, 9, 7, 0, 0, 0, 0, time.Local) // понедельник
	return &model.Record{
		ID:            uuid.New(),
		Category:      model.CategoryRegular,
		Status:        st,
		CustomerName:  "ООО Ромашка",
		PostalCode:    "101000",
		Address:       "Москва, ул. Тверская, 1",
		ContactName:   "Иванов",
		Phone:         "+7 900 000-00-00",
		Area:          "Центр",
		Assignee:      "Петров",
		ScheduledDate: &date,
		StartTime:     "10:00",
		EndTime:       "12:00",
		CreatedAt:     time.Now(),
	}
}

// linkedRecord — зарегистрированная запись, привязанная к событию.
func linkedRecord(st status.Status, calendarID, eventID string) *model.Record {
	rec := scheduledRecord(st)
	rec.CalendarID = calendarID
	rec.CalendarEventID = eventID
	return rec
}

func mustStatus(t *testing.T, rec *model.Record, want status.Status) {
	t.Helper()
	if rec.Status != want {
		t.Errorf("статус записи = %q, ожидается %q", rec.Status, want)
	}
}
