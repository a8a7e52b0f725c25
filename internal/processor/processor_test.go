package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/keylock"
	"github.com/onurcolak/messaging-bridge/internal/notification"
	"github.com/onurcolak/messaging-bridge/internal/repository"
	"github.com/onurcolak/messaging-bridge/internal/webhook"
	"github.com/onurcolak/messaging-bridge/internal/worker"
	"github.com/onurcolak/messaging-bridge/pkg/database"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count(t domain.EventType, userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t && ev.UserID == userID {
			n++
		}
	}
	return n
}

type harness struct {
	db        *sqlx.DB
	store     *webhook.Store
	processor *Processor
	events    *recordingPublisher
	locks     *keylock.Locker
	account   *domain.Account
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "processor.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	accounts := repository.NewAccountRepository(db)
	account := &domain.Account{
		Platform:    domain.PlatformFacebook,
		OwnerUserID: "owner-1",
		Name:        "Shop",
		AccessToken: "token",
		Active:      true,
		Details:     domain.FacebookAccountDetails{PageID: "page_1"},
	}
	if err := accounts.Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	store := webhook.NewStore(repository.NewWebhookEventRepository(db), 3)
	events := &recordingPublisher{}
	locks := keylock.New()

	return &harness{
		db:    db,
		store: store,
		processor: New(Deps{
			Webhooks:      store,
			Accounts:      accounts,
			Customers:     repository.NewCustomerRepository(db),
			Conversations: repository.NewConversationRepository(db),
			Messages:      repository.NewMessageRepository(db),
			Events:        events,
			Locks:         locks,
		}),
		events:  events,
		locks:   locks,
		account: account,
	}
}

func (h *harness) deliver(t *testing.T, payload string) (*domain.WebhookEvent, error) {
	t.Helper()
	ctx := context.Background()

	event, err := h.store.Record(ctx, domain.PlatformFacebook, []byte(payload))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	processErr := h.processor.Process(ctx, event.ID, domain.PlatformFacebook, []byte(payload))

	stored, err := h.store.Get(ctx, event.ID)
	if err != nil {
		t.Fatalf("get webhook event: %v", err)
	}
	return stored, processErr
}

func (h *harness) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := h.db.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func (h *harness) conversation(t *testing.T) *domain.Conversation {
	t.Helper()
	var c domain.Conversation
	if err := h.db.Get(&c, "SELECT id, account_id, customer_id, last_message_at, unread_count, active, created_at, updated_at FROM conversations LIMIT 1"); err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	return &c
}

func facebookMessage(pageID, senderID, mid, text string, ts int64) string {
	return fmt.Sprintf(`{"object":"page","entry":[{"id":%q,"time":%d,"messaging":[
		{"sender":{"id":%q},"recipient":{"id":%q},"timestamp":%d,"message":{"mid":%q,"text":%q}}]}]}`,
		pageID, ts, senderID, pageID, ts, mid, text)
}

func TestProcess_NewCustomerMessageAndRedelivery(t *testing.T) {
	h := newHarness(t)
	payload := facebookMessage("page_1", "fb_123", "m_1", "hello", 1700000000000)

	event, err := h.deliver(t, payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !event.Processed || event.AccountID == nil || *event.AccountID != h.account.ID {
		t.Fatalf("expected processed event linked to account, got %+v", event)
	}

	if h.count(t, "customers") != 1 || h.count(t, "conversations") != 1 || h.count(t, "messages") != 1 {
		t.Fatalf("expected one customer, conversation and message")
	}
	if got := h.conversation(t).UnreadCount; got != 1 {
		t.Fatalf("expected unread count 1, got %d", got)
	}

	var inbound bool
	if err := h.db.Get(&inbound, "SELECT is_inbound FROM messages WHERE platform_message_id = 'm_1'"); err != nil || !inbound {
		t.Fatalf("expected inbound message, got %v, %v", inbound, err)
	}
	if got := h.events.count(domain.EventNewMessage, "owner-1"); got != 1 {
		t.Fatalf("expected one NEW_MESSAGE to owner, got %d", got)
	}

	redelivered, err := h.deliver(t, payload)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !redelivered.Processed {
		t.Fatalf("expected redelivery to be marked processed")
	}

	if h.count(t, "webhook_events") != 2 {
		t.Fatalf("expected redelivery to be recorded")
	}
	if h.count(t, "customers") != 1 || h.count(t, "conversations") != 1 || h.count(t, "messages") != 1 ||
		h.count(t, "message_notifications") != 1 {
		t.Fatalf("expected redelivery to leave domain tables unchanged")
	}
	if got := h.conversation(t).UnreadCount; got != 1 {
		t.Fatalf("expected unread count to stay 1, got %d", got)
	}
	if got := h.events.count(domain.EventNewMessage, "owner-1"); got != 1 {
		t.Fatalf("expected no second NEW_MESSAGE, got %d", got)
	}
}

func TestProcess_ConcurrentInboundThenMarkRead(t *testing.T) {
	h := newHarness(t)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := facebookMessage("page_1", "fb_123", fmt.Sprintf("m_%d", i), "hi", 1700000000000+int64(i))
			event, err := h.store.Record(context.Background(), domain.PlatformFacebook, []byte(payload))
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if err := h.processor.Process(context.Background(), event.ID, domain.PlatformFacebook, []byte(payload)); err != nil {
				t.Errorf("process: %v", err)
			}
		}(i)
	}

	// The same delivery racing with itself must still store one message.
	dup := facebookMessage("page_1", "fb_123", "m_dup", "again", 1700000001000)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event, err := h.store.Record(context.Background(), domain.PlatformFacebook, []byte(dup))
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			_ = h.processor.Process(context.Background(), event.ID, domain.PlatformFacebook, []byte(dup))
		}()
	}
	wg.Wait()

	if got := h.count(t, "conversations"); got != 1 {
		t.Fatalf("expected exactly one conversation, got %d", got)
	}
	if got := h.count(t, "messages"); got != n+1 {
		t.Fatalf("expected %d messages, got %d", n+1, got)
	}
	conversation := h.conversation(t)
	if conversation.UnreadCount != n+1 {
		t.Fatalf("expected unread count %d, got %d", n+1, conversation.UnreadCount)
	}

	ledger := notification.NewLedger(
		repository.NewNotificationRepository(h.db),
		repository.NewConversationRepository(h.db),
		repository.NewMessageRepository(h.db),
		repository.NewAccountRepository(h.db),
		h.locks,
		h.events,
	)
	if _, err := ledger.MarkConversationRead(context.Background(), "owner-1", conversation.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got := h.conversation(t).UnreadCount; got != 0 {
		t.Fatalf("expected unread count 0 after mark read, got %d", got)
	}
}

func TestProcess_SiblingFailuresDoNotAbortBatch(t *testing.T) {
	h := newHarness(t)
	payload := `{"object":"page","entry":[
		{"id":"page_unknown","time":1,"messaging":[
			{"sender":{"id":"fb_9"},"recipient":{"id":"page_unknown"},"timestamp":1700000000000,"message":{"mid":"m_x","text":"lost"}}]},
		{"id":"page_1","time":1,"messaging":[
			{"sender":{"id":"fb_123"},"recipient":{"id":"page_1"},"timestamp":1700000000000,"postback":{"payload":"START"}},
			{"sender":{"id":"fb_123"},"recipient":{"id":"page_1"},"timestamp":1700000000001,"message":{"mid":"m_ok","text":"kept"}}]}]}`

	event, err := h.deliver(t, payload)

	var cfgErr *domain.AccountConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.RoutingID != "page_unknown" {
		t.Fatalf("expected account configuration error for page_unknown, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnsupportedEvent) {
		t.Fatalf("expected unsupported postback among failures, got %v", err)
	}

	if event.Processed || event.ErrorMessage == nil || !strings.Contains(*event.ErrorMessage, "page_unknown") {
		t.Fatalf("expected event marked failed with reason, got %+v", event)
	}
	if h.count(t, "messages") != 1 {
		t.Fatalf("expected the valid sibling message to be stored")
	}
}

func TestProcess_InactiveAccountFailsEvent(t *testing.T) {
	h := newHarness(t)
	if _, err := repository.NewAccountRepository(h.db).SetActive(context.Background(), h.account.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := h.deliver(t, facebookMessage("page_1", "fb_123", "m_1", "hello", 1700000000000))

	var cfgErr *domain.AccountConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected account configuration error, got %v", err)
	}
	if h.count(t, "messages") != 0 {
		t.Fatalf("expected nothing stored for inactive account")
	}
}

func TestProcess_EchoAndReceipts(t *testing.T) {
	h := newHarness(t)

	echo := `{"object":"page","entry":[{"id":"page_1","time":1,"messaging":[
		{"sender":{"id":"page_1"},"recipient":{"id":"fb_123"},"timestamp":1700000000000,
		 "message":{"mid":"m_echo","text":"we shipped it","is_echo":true}}]}]}`
	if _, err := h.deliver(t, echo); err != nil {
		t.Fatalf("echo: %v", err)
	}

	var msg domain.Message
	if err := h.db.Get(&msg, "SELECT id, is_inbound, status, sender_id FROM messages WHERE platform_message_id = 'm_echo'"); err != nil {
		t.Fatalf("load echo: %v", err)
	}
	if msg.IsInbound || msg.SenderID != "page_1" {
		t.Fatalf("expected outbound echo from page, got %+v", msg)
	}
	if got := h.conversation(t).UnreadCount; got != 0 {
		t.Fatalf("expected echo not to change unread count, got %d", got)
	}

	delivery := `{"object":"page","entry":[{"id":"page_1","time":1,"messaging":[
		{"sender":{"id":"fb_123"},"recipient":{"id":"page_1"},"timestamp":1700000001000,
		 "delivery":{"mids":["m_echo","m_unknown"],"watermark":1700000000500}}]}]}`
	if _, err := h.deliver(t, delivery); err != nil {
		t.Fatalf("delivery: %v", err)
	}
	if got := h.events.count(domain.EventMessageStatusUpdate, "owner-1"); got != 1 {
		t.Fatalf("expected one status update, got %d", got)
	}

	read := `{"object":"page","entry":[{"id":"page_1","time":1,"messaging":[
		{"sender":{"id":"fb_123"},"recipient":{"id":"page_1"},"timestamp":1700000002000,
		 "read":{"watermark":1700000001500}}]}]}`
	if _, err := h.deliver(t, read); err != nil {
		t.Fatalf("read: %v", err)
	}

	// A late delivery receipt must not move READ backwards.
	if _, err := h.deliver(t, delivery); err != nil {
		t.Fatalf("late delivery: %v", err)
	}

	var status domain.MessageStatus
	if err := h.db.Get(&status, "SELECT status FROM messages WHERE platform_message_id = 'm_echo'"); err != nil {
		t.Fatalf("load status: %v", err)
	}
	if status != domain.StatusRead {
		t.Fatalf("expected READ, got %s", status)
	}
	if got := h.events.count(domain.EventMessageStatusUpdate, "owner-1"); got != 2 {
		t.Fatalf("expected two status updates, got %d", got)
	}
}

type fullPool struct{}

func (fullPool) Submit(context.Context, worker.Task) error {
	return fmt.Errorf("ingest pool: %w", domain.ErrQueueFull)
}

func TestIngestor_FullQueueMarksEventFailed(t *testing.T) {
	h := newHarness(t)
	ingestor := NewIngestor(h.store, fullPool{}, h.processor, 10*time.Millisecond)

	event, err := ingestor.Ingest(context.Background(), domain.PlatformFacebook,
		[]byte(facebookMessage("page_1", "fb_123", "m_1", "hello", 1700000000000)))
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}

	stored, _ := h.store.Get(context.Background(), event.ID)
	if stored.Processed || stored.ErrorMessage == nil {
		t.Fatalf("expected unqueued event to be recorded as failed, got %+v", stored)
	}

	result, err := h.processor.ReplayPending(context.Background(), -time.Minute, 10)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Attempted != 1 || result.Processed != 1 {
		t.Fatalf("expected replay to process the event, got %+v", result)
	}
	if h.count(t, "messages") != 1 {
		t.Fatalf("expected replayed message to be stored")
	}
}

func TestReplayPending_SkipsDeadDeliveries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var dead []int64
	for i := 0; i < 3; i++ {
		stored, err := h.deliver(t, facebookMessage("page_unknown", "fb_9", fmt.Sprintf("m_dead_%d", i), "hi", 1700000000000))
		var configErr *domain.AccountConfigurationError
		if !errors.As(err, &configErr) {
			t.Fatalf("expected account configuration error, got %v", err)
		}
		if !stored.Dead || stored.Attempts != 1 {
			t.Fatalf("expected unknown-page delivery to be dead after one attempt, got %+v", stored)
		}
		dead = append(dead, stored.ID)
	}

	ingestor := NewIngestor(h.store, fullPool{}, h.processor, 10*time.Millisecond)
	queued, err := ingestor.Ingest(ctx, domain.PlatformFacebook,
		[]byte(facebookMessage("page_1", "fb_123", "m_1", "hello", 1700000000000)))
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}

	// The batch is no larger than the number of dead deliveries ahead of it.
	result, err := h.processor.ReplayPending(ctx, -time.Minute, len(dead))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Attempted != 1 || result.Processed != 1 {
		t.Fatalf("expected only the unqueued delivery to be replayed, got %+v", result)
	}

	stored, _ := h.store.Get(ctx, queued.ID)
	if !stored.Processed || h.count(t, "messages") != 1 {
		t.Fatalf("expected unqueued delivery to be processed, got %+v", stored)
	}

	// Dead deliveries stay in the audit log and can still be replayed by id.
	failed := false
	audit, _, err := h.store.List(ctx, &failed, 1, 10)
	if err != nil || len(audit) != len(dead) {
		t.Fatalf("expected dead deliveries in the audit log, got %d (%v)", len(audit), err)
	}

	accounts := repository.NewAccountRepository(h.db)
	if err := accounts.Create(ctx, &domain.Account{
		Platform:    domain.PlatformFacebook,
		OwnerUserID: "owner-1",
		Name:        "Second shop",
		AccessToken: "token",
		Active:      true,
		Details:     domain.FacebookAccountDetails{PageID: "page_unknown"},
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}

	replayed, err := h.processor.Replay(ctx, dead[0])
	if err != nil {
		t.Fatalf("replay by id: %v", err)
	}
	if !replayed.Processed || replayed.Dead {
		t.Fatalf("expected manual replay to process the delivery, got %+v", replayed)
	}
}

func TestReplayPending_StopsAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event, err := h.store.Record(ctx, domain.PlatformFacebook,
		[]byte(facebookMessage("page_1", "fb_123", "m_1", "hello", 1700000000000)))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	// Storage errors are retryable; the harness allows three attempts.
	for i := 0; i < 3; i++ {
		if err := h.store.MarkFailed(ctx, event.ID, "database is locked"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	result, err := h.processor.ReplayPending(ctx, -time.Minute, 10)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Attempted != 0 {
		t.Fatalf("expected exhausted delivery to leave the sweep, got %+v", result)
	}

	stored, _ := h.store.Get(ctx, event.ID)
	if stored.Dead || stored.Attempts != 3 {
		t.Fatalf("expected three retryable attempts, got %+v", stored)
	}
}

func TestIngestor_QueuesForWorkers(t *testing.T) {
	h := newHarness(t)
	pool := worker.NewPool("ingest", 2, 4)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}

	ingestor := NewIngestor(h.store, pool, h.processor, time.Second)
	event, err := ingestor.Ingest(context.Background(), domain.PlatformFacebook,
		[]byte(facebookMessage("page_1", "fb_123", "m_1", "hello", 1700000000000)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := pool.Stop(); err != nil {
		t.Fatalf("stop pool: %v", err)
	}

	replayed, err := h.processor.Replay(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed.Processed {
		t.Fatalf("expected worker to have processed the event")
	}
	if h.count(t, "messages") != 1 {
		t.Fatalf("expected one message, got %d", h.count(t, "messages"))
	}
}
