package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
	"github.com/acetrade/session-bridge/internal/testdb"
	"github.com/acetrade/session-bridge/internal/utils"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

var totpOpts = totp.ValidateOpts{Period: TOTPPeriod, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

// memThrottle is an in-process AttemptThrottle for tests.
type memThrottle struct {
	mu    sync.Mutex
	limit int
	fails map[string]int
}

func newMemThrottle(limit int) *memThrottle {
	return &memThrottle{limit: limit, fails: map[string]int{}}
}

func (m *memThrottle) key(userID uint64, purpose string) string { return fmt.Sprintf("%s:%d", purpose, userID) }

func (m *memThrottle) Allow(_ context.Context, userID uint64, purpose string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fails[m.key(userID, purpose)] < m.limit
}

func (m *memThrottle) Failed(_ context.Context, userID uint64, purpose string) {
	m.mu.Lock()
	m.fails[m.key(userID, purpose)]++
	m.mu.Unlock()
}

func (m *memThrottle) Succeeded(_ context.Context, userID uint64, purpose string) {
	m.mu.Lock()
	delete(m.fails, m.key(userID, purpose))
	m.mu.Unlock()
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SecurityLogEntry
}

func (p *recordingPublisher) PublishSecurityEvent(_ context.Context, e model.SecurityLogEntry) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) kinds() []model.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event)
	}
	return out
}

type fixture struct {
	db       *sql.DB
	clk      *clock.Mock
	users    *repository.UserRepo
	sessions *repository.SessionRepo
	active   *repository.ActiveSessionRepo
	codes    *repository.TwoFACodeRepo
	logs     *repository.SecurityLogRepo
	pub      *recordingPublisher
	throttle *memThrottle

	activity  *ActivityLog
	limiter   *SessionRateLimiter
	tokens    *TokenService
	directory *SessionDirectory
	recovery  *RecoveryService
	twofa     *TwoFactorService
	lockdown  *LockdownService
	accounts  *UserService

	nextChat int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	gw := repository.NewGateway(db, 5*time.Second)
	logger := quietLogger()
	box, err := utils.NewSecretBox("test-passphrase")
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		clk:      clock.NewMock(t0),
		users:    repository.NewUserRepo(gw),
		sessions: repository.NewSessionRepo(gw),
		active:   repository.NewActiveSessionRepo(gw),
		codes:    repository.NewTwoFACodeRepo(gw),
		logs:     repository.NewSecurityLogRepo(gw),
		pub:      &recordingPublisher{},
		throttle: newMemThrottle(DefaultAttemptLimit),
	}
	f.activity = NewActivityLog(f.logs, f.pub, f.clk, logger, ActivityOptions{Retries: -1})
	f.limiter = NewSessionRateLimiter(f.sessions, f.clk, 0, 0)
	f.tokens = NewTokenService(f.users, f.sessions, f.limiter, f.activity, f.clk, rand.Reader, logger, TokenConfig{
		TerminalURL: "https://terminal.example.com",
	})
	f.directory = NewSessionDirectory(f.users, f.active, f.activity, f.clk)
	f.recovery = NewRecoveryService(f.users, f.activity, f.throttle, rand.Reader, bcrypt.MinCost)
	f.twofa = NewTwoFactorService(f.users, f.codes, f.recovery, f.activity, f.throttle, box, f.clk, rand.Reader, logger, "")
	f.lockdown = NewLockdownService(f.users, f.active, f.twofa, f.activity, f.clk, logger)
	f.accounts = NewUserService(f.users, f.activity, f.clk, rand.Reader, logger)
	return f
}

func (f *fixture) addUser(t *testing.T) model.User {
	t.Helper()
	f.nextChat++
	u, err := f.accounts.Register(context.Background(), 1000+f.nextChat, "")
	require.NoError(t, err)
	return u
}

// enable2FA enrolls userID and returns the TOTP secret and recovery key.
func (f *fixture) enable2FA(t *testing.T, userID uint64) (secret, recoveryKey string) {
	t.Helper()
	ctx := context.Background()
	enr, err := f.twofa.BeginEnrollment(ctx, userID, "")
	require.NoError(t, err)
	code, err := f.twofa.IssueCode(ctx, userID, model.ActionEnable)
	require.NoError(t, err)
	totpCode, err := totp.GenerateCodeCustom(enr.Secret, f.clk.Now(), totpOpts)
	require.NoError(t, err)
	key, err := f.twofa.ConfirmEnable(ctx, userID, code, totpCode)
	require.NoError(t, err)
	return enr.Secret, key
}

func (f *fixture) addActiveSessions(t *testing.T, userID uint64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		device := fmt.Sprintf("device-%d", i)
		_, err := f.directory.Register(context.Background(), userID, nil, &device)
		require.NoError(t, err)
		f.clk.Advance(time.Second)
	}
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(query, args...).Scan(&n))
	return n
}

func (f *fixture) events(t *testing.T, userID uint64) []model.EventKind {
	t.Helper()
	rows, err := f.db.Query("SELECT event_type FROM security_logs WHERE user_id=? ORDER BY log_id", userID)
	require.NoError(t, err)
	defer rows.Close()
	var out []model.EventKind
	for rows.Next() {
		var e string
		require.NoError(t, rows.Scan(&e))
		out = append(out, model.EventKind(e))
	}
	require.NoError(t, rows.Err())
	return out
}

// repeatReader yields the same bytes forever, so every generated value
// collides with the first.
type repeatReader struct{ b byte }

func (r repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
	}
	return len(p), nil
}
