package airesponder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-messaging-backend/internal/config"
	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"
)

func newResponderDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("airesponder_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedInbox(t *testing.T, db *gorm.DB, userIDs ...string) *domain.Inbox {
	t.Helper()
	in, err := repo.CreateInbox(context.Background(), db, domain.CanonicalParticipants(userIDs), nil)
	if err != nil {
		t.Fatalf("seed inbox: %v", err)
	}
	return in
}

func seedMessage(t *testing.T, db *gorm.DB, inboxID, senderID, body string, at time.Time) *domain.Message {
	t.Helper()
	m, err := repo.CreateMessage(db, inboxID, senderID, &body, at)
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

// stubProvider records the turns it saw and returns a fixed reply.
type stubProvider struct {
	reply string
	err   error
	turns []Turn
	calls int
}

func (p *stubProvider) Generate(_ context.Context, turns []Turn) (string, error) {
	p.calls++
	p.turns = turns
	return p.reply, p.err
}

func aiConfig() config.AIConfig {
	return config.AIConfig{
		Enabled:          true,
		UserID:           "bot",
		Provider:         config.ProviderCustom,
		RateLimitMinutes: 1,
		ContextMessages:  10,
	}
}

func countMessages(t *testing.T, db *gorm.DB, inboxID string) int64 {
	t.Helper()
	n, err := repo.CountMessages(db, inboxID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	return n
}

func TestResponder_AppendsReply(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "bot")
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := seedMessage(t, db, in.ID, "u1", "hello bot", now)

	p := &stubProvider{reply: "hello human"}
	r := &Responder{DB: db, Cfg: aiConfig(), Provider: p, Now: func() time.Time { return now }}
	r.ProcessMessage(context.Background(), msg, in)

	if countMessages(t, db, in.ID) != 2 {
		t.Fatalf("expected reply appended")
	}
	latest, err := repo.LatestMessage(db, in.ID)
	if err != nil || latest.SenderID != "bot" || latest.BodyOrEmpty() != "hello human" {
		t.Fatalf("unexpected latest: %+v, %v", latest, err)
	}
}

func TestResponder_SelfMessageGuard(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "bot")
	now := time.Now().UTC()
	msg := seedMessage(t, db, in.ID, "bot", "I already replied", now)

	p := &stubProvider{reply: "loop!"}
	r := &Responder{DB: db, Cfg: aiConfig(), Provider: p, Now: func() time.Time { return now }}
	r.ProcessMessage(context.Background(), msg, in)

	if p.calls != 0 || countMessages(t, db, in.ID) != 1 {
		t.Fatalf("responder answered its own message")
	}
}

func TestResponder_ParticipationGuard(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "u2") // bot is not a member
	now := time.Now().UTC()
	msg := seedMessage(t, db, in.ID, "u1", "hi", now)

	p := &stubProvider{reply: "intrusion"}
	r := &Responder{DB: db, Cfg: aiConfig(), Provider: p, Now: func() time.Time { return now }}
	r.ProcessMessage(context.Background(), msg, in)

	if p.calls != 0 || countMessages(t, db, in.ID) != 1 {
		t.Fatalf("responder replied in an inbox it does not belong to")
	}
}

func TestResponder_RateLimit(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "bot")
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	p := &stubProvider{reply: "answer"}
	now := base
	r := &Responder{DB: db, Cfg: aiConfig(), Provider: p, Now: func() time.Time { return now }}

	first := seedMessage(t, db, in.ID, "u1", "one", base)
	r.ProcessMessage(context.Background(), first, in)
	if countMessages(t, db, in.ID) != 2 {
		t.Fatalf("first reply missing")
	}

	// Ten seconds later, still inside the one-minute window.
	now = base.Add(10 * time.Second)
	second := seedMessage(t, db, in.ID, "u1", "two", now)
	r.ProcessMessage(context.Background(), second, in)
	if p.calls != 1 || countMessages(t, db, in.ID) != 3 {
		t.Fatalf("rate limit not applied: calls=%d messages=%d", p.calls, countMessages(t, db, in.ID))
	}

	// Past the window the responder answers again.
	now = base.Add(2 * time.Minute)
	third := seedMessage(t, db, in.ID, "u1", "three", now)
	r.ProcessMessage(context.Background(), third, in)
	if p.calls != 2 || countMessages(t, db, in.ID) != 5 {
		t.Fatalf("expected second reply after window: calls=%d messages=%d", p.calls, countMessages(t, db, in.ID))
	}
}

func TestResponder_ContextAssembly(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "bot")
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	seedMessage(t, db, in.ID, "u1", "first", base)
	seedMessage(t, db, in.ID, "bot", "ack", base.Add(time.Second))
	// Attachment-only message: nil body.
	if _, err := repo.CreateMessage(db, in.ID, "u1", nil, base.Add(2*time.Second)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Attachment-only message from the bot itself.
	if _, err := repo.CreateMessage(db, in.ID, "bot", nil, base.Add(3*time.Second)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	msg := seedMessage(t, db, in.ID, "u1", "latest", base.Add(4*time.Second))

	cfg := aiConfig()
	cfg.RateLimitMinutes = 0 // the bot's earlier message must not block
	p := &stubProvider{reply: "done"}
	r := &Responder{
		DB: db, Cfg: cfg, Provider: p,
		Directory: staticLookup{"u1": "Jane"},
		Now:       func() time.Time { return base.Add(time.Minute) },
	}
	r.ProcessMessage(context.Background(), msg, in)

	want := []Turn{
		{Role: RoleUser, Content: "[Jane]: first"},
		{Role: RoleAssistant, Content: "ack"},
		{Role: RoleUser, Content: "[Jane]: [Attachment]"},
		{Role: RoleAssistant, Content: ""},
		{Role: RoleUser, Content: "[Jane]: latest"},
	}
	if len(p.turns) != len(want) {
		t.Fatalf("turns = %+v", p.turns)
	}
	for i := range want {
		if p.turns[i] != want[i] {
			t.Fatalf("turn %d = %+v, want %+v", i, p.turns[i], want[i])
		}
	}
}

func TestResponder_ProviderFailureSwallowed(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "bot")
	now := time.Now().UTC()
	msg := seedMessage(t, db, in.ID, "u1", "hi", now)

	p := &stubProvider{err: errors.New("api down")}
	r := &Responder{DB: db, Cfg: aiConfig(), Provider: p, Now: func() time.Time { return now }}
	r.ProcessMessage(context.Background(), msg, in) // must not panic

	if countMessages(t, db, in.ID) != 1 {
		t.Fatalf("failed provider still appended a message")
	}
}

func TestResponder_EmptyReplySkipped(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "bot")
	now := time.Now().UTC()
	msg := seedMessage(t, db, in.ID, "u1", "hi", now)

	p := &stubProvider{reply: "   "}
	r := &Responder{DB: db, Cfg: aiConfig(), Provider: p, Now: func() time.Time { return now }}
	r.ProcessMessage(context.Background(), msg, in)

	if countMessages(t, db, in.ID) != 1 {
		t.Fatalf("blank reply was appended")
	}
}

func TestResponder_Disabled(t *testing.T) {
	db := newResponderDB(t)
	in := seedInbox(t, db, "u1", "bot")
	now := time.Now().UTC()
	msg := seedMessage(t, db, in.ID, "u1", "hi", now)

	cfg := aiConfig()
	cfg.Enabled = false
	p := &stubProvider{reply: "nope"}
	r := &Responder{DB: db, Cfg: cfg, Provider: p, Now: func() time.Time { return now }}
	r.ProcessMessage(context.Background(), msg, in)

	if p.calls != 0 || countMessages(t, db, in.ID) != 1 {
		t.Fatalf("disabled responder still acted")
	}
}

// staticLookup is a map-backed NameLookup for tests.
type staticLookup map[string]string

func (s staticLookup) DisplayName(_ context.Context, userID string) (string, bool) {
	name, ok := s[userID]
	return name, ok
}
