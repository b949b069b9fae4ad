package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
	"github.com/waypoint/server/internal/repo"
)

// fakeClock is a settable time source shared by a test's services.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeOtpRepo mirrors the Postgres repo semantics in memory: conditional
// consume, superseding create, lockout marker.
type fakeOtpRepo struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]*model.OtpChallenge
	now        func() time.Time
}

func newFakeOtpRepo(now func() time.Time) *fakeOtpRepo {
	return &fakeOtpRepo{challenges: make(map[uuid.UUID]*model.OtpChallenge), now: now}
}

func (r *fakeOtpRepo) CreateSuperseding(_ context.Context, challenge model.OtpChallenge) (model.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, c := range r.challenges {
		if c.IdentifierType == challenge.IdentifierType && c.IdentifierValue == challenge.IdentifierValue &&
			c.Purpose == challenge.Purpose && c.ConsumedAt == nil {
			t := now
			c.ConsumedAt = &t
		}
	}
	challenge.CreatedAt = now
	stored := challenge
	r.challenges[challenge.ID] = &stored
	return stored, nil
}

func (r *fakeOtpRepo) FindActive(_ context.Context, identifierType model.IdentifierType, value string, purpose model.ChallengePurpose) (model.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *model.OtpChallenge
	for _, c := range r.challenges {
		if c.IdentifierType != identifierType || c.IdentifierValue != value || c.Purpose != purpose {
			continue
		}
		if c.ConsumedAt != nil || c.LockedAt != nil || !r.now().Before(c.ExpiresAt) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return model.OtpChallenge{}, repo.ErrNotFound
	}
	return *latest, nil
}

func (r *fakeOtpRepo) GetByID(_ context.Context, id uuid.UUID) (model.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok {
		return model.OtpChallenge{}, repo.ErrNotFound
	}
	return *c, nil
}

func (r *fakeOtpRepo) Consume(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok || c.ConsumedAt != nil {
		return repo.ErrNotFound
	}
	t := r.now()
	c.ConsumedAt = &t
	return nil
}

func (r *fakeOtpRepo) IncrementAttempt(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok || c.ConsumedAt != nil {
		return 0, repo.ErrNotFound
	}
	c.AttemptCount++
	return c.AttemptCount, nil
}

func (r *fakeOtpRepo) Lock(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.challenges[id]
	if !ok {
		return repo.ErrNotFound
	}
	if c.LockedAt == nil {
		t := r.now()
		c.LockedAt = &t
	}
	return nil
}

func (r *fakeOtpRepo) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.challenges {
		if c.ConsumedAt == nil {
			n++
		}
	}
	return n
}

// fakeUserRepo keeps users and identities in memory with a unique
// (type, value) constraint.
type fakeUserRepo struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*model.User
	identities map[uuid.UUID]*model.Identity
	now        func() time.Time
}

func newFakeUserRepo(now func() time.Time) *fakeUserRepo {
	return &fakeUserRepo{
		users:      make(map[uuid.UUID]*model.User),
		identities: make(map[uuid.UUID]*model.Identity),
		now:        now,
	}
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return model.User{}, repo.ErrNotFound
	}
	return *u, nil
}

func (r *fakeUserRepo) FindIdentity(_ context.Context, identityType, value string) (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.identities {
		if i.Type == identityType && i.Value == value {
			return *i, nil
		}
	}
	return model.Identity{}, repo.ErrNotFound
}

func (r *fakeUserRepo) CreateUserWithIdentity(_ context.Context, displayName, identityType, value string, verified bool) (model.User, model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.identities {
		if i.Type == identityType && i.Value == value {
			return model.User{}, model.Identity{}, repo.ErrConflict
		}
	}
	now := r.now()
	user := model.User{ID: uuid.New(), DisplayName: displayName, CreatedAt: now}
	identity := model.Identity{ID: uuid.New(), UserID: user.ID, Type: identityType, Value: value, CreatedAt: now}
	if verified {
		t := now
		identity.VerifiedAt = &t
	}
	r.users[user.ID] = &user
	r.identities[identity.ID] = &identity
	return user, identity, nil
}

func (r *fakeUserRepo) AddIdentity(_ context.Context, userID uuid.UUID, identityType, value string, verified bool) (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.identities {
		if i.Type == identityType && i.Value == value {
			return model.Identity{}, repo.ErrConflict
		}
	}
	identity := model.Identity{ID: uuid.New(), UserID: userID, Type: identityType, Value: value, CreatedAt: r.now()}
	if verified {
		t := r.now()
		identity.VerifiedAt = &t
	}
	r.identities[identity.ID] = &identity
	return identity, nil
}

func (r *fakeUserRepo) VerifyIdentity(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.identities[id]
	if !ok {
		return repo.ErrNotFound
	}
	if i.VerifiedAt == nil {
		t := r.now()
		i.VerifiedAt = &t
	}
	return nil
}

func (r *fakeUserRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	if u.DeletedAt == nil {
		t := r.now()
		u.DeletedAt = &t
	}
	return nil
}

// fakeDeviceRepo upserts devices by id.
type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*model.Device
	now     func() time.Time
}

func newFakeDeviceRepo(now func() time.Time) *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[uuid.UUID]*model.Device), now: now}
}

func (r *fakeDeviceRepo) GetByID(_ context.Context, id uuid.UUID) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return model.Device{}, repo.ErrNotFound
	}
	return *d, nil
}

func (r *fakeDeviceRepo) Upsert(_ context.Context, device model.Device) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if existing, ok := r.devices[device.ID]; ok {
		existing.UserID = device.UserID
		existing.Platform = device.Platform
		existing.PushToken = device.PushToken
		existing.IsPrimary = device.IsPrimary
		existing.LastSeenAt = now
		return *existing, nil
	}
	device.LastSeenAt = now
	device.CreatedAt = now
	stored := device
	r.devices[device.ID] = &stored
	return stored, nil
}

// fakeSessionRepo mirrors the Postgres session semantics: device-keyed
// upsert and compare-and-set rotation.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.Session
	now      func() time.Time
}

func newFakeSessionRepo(now func() time.Time) *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*model.Session), now: now}
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id uuid.UUID) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, repo.ErrNotFound
	}
	return *s, nil
}

func (r *fakeSessionRepo) UpsertForDevice(_ context.Context, session model.Session) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, s := range r.sessions {
		if s.DeviceID == session.DeviceID {
			delete(r.sessions, id)
			session.CreatedAt = s.CreatedAt
			break
		}
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.RevokedAt = nil
	stored := session
	r.sessions[session.ID] = &stored
	return stored, nil
}

func (r *fakeSessionRepo) Rotate(_ context.Context, id uuid.UUID, currentHash, nextHash string) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.RefreshTokenHash != currentHash || s.RevokedAt != nil || !r.now().Before(s.ExpiresAt) {
		return model.Session{}, repo.ErrNotFound
	}
	s.RefreshTokenHash = nextHash
	s.UpdatedAt = r.now()
	return *s, nil
}

func (r *fakeSessionRepo) Revoke(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	if s.RevokedAt == nil {
		t := r.now()
		s.RevokedAt = &t
	}
	return nil
}

func (r *fakeSessionRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			t := r.now()
			s.RevokedAt = &t
		}
	}
	return nil
}

func (r *fakeSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// recordingSender captures dispatched codes instead of delivering them.
type recordingSender struct {
	mu    sync.Mutex
	sends []sentCode
	err   error
	done  chan struct{}
}

type sentCode struct {
	identifierType model.IdentifierType
	destination    string
	code           string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{done: make(chan struct{}, 16)}
}

func (s *recordingSender) SendCode(_ context.Context, identifierType model.IdentifierType, destination, code string) error {
	s.mu.Lock()
	s.sends = append(s.sends, sentCode{identifierType, destination, code})
	err := s.err
	s.mu.Unlock()
	s.done <- struct{}{}
	return err
}

// waitForSend blocks until one dispatched delivery lands or the timeout hits.
func (s *recordingSender) waitForSend(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *recordingSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sends) == 0 {
		return ""
	}
	return s.sends[len(s.sends)-1].code
}

func (s *recordingSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}
