package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/logger"
	"github.com/corralhq/corral/pkg/metrics"
)

// Default lease timings. The fast heartbeat drives blocking acquisitions and
// the retry cadence; try-lock leases heartbeat slower.
const (
	DefaultLeaseTTL      = 10 * time.Second
	DefaultFastHeartbeat = 100 * time.Millisecond
	DefaultSlowHeartbeat = 1 * time.Second
)

// LockConfig tunes the lock manager.
type LockConfig struct {
	LeaseTTL      time.Duration
	FastHeartbeat time.Duration
	SlowHeartbeat time.Duration
}

// LockService implements cluster-wide named mutexes as lease records. A lease
// is claimed by taking ownership of the lock row and bumping its fencing
// token in one transaction; ownership expires unless the holder's heartbeat
// keeps renewing it, so crashed holders are reaped by the sweeper.
type LockService struct {
	db       *gorm.DB
	leaseTTL time.Duration
	fastBeat time.Duration
	slowBeat time.Duration
	logger   *zap.Logger
}

// NewLockService constructs the lock manager.
func NewLockService(db *gorm.DB, cfg LockConfig) (*LockService, error) {
	if db == nil {
		return nil, errors.New("lock service requires database handle")
	}

	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.FastHeartbeat <= 0 {
		cfg.FastHeartbeat = DefaultFastHeartbeat
	}
	if cfg.SlowHeartbeat <= 0 {
		cfg.SlowHeartbeat = DefaultSlowHeartbeat
	}

	return &LockService{
		db:       db,
		leaseTTL: cfg.LeaseTTL,
		fastBeat: cfg.FastHeartbeat,
		slowBeat: cfg.SlowHeartbeat,
		logger:   logger.WithModule("services.lock"),
	}, nil
}

// Heartbeat is one lease confirmation emitted to the holder.
type Heartbeat struct {
	Key          string `json:"key"`
	FencingToken int64  `json:"fencing_token"`
}

// Lease is a held lock. The holder reads heartbeats from C until it releases
// the lease or loses it; the channel closes when the lease ends either way.
type Lease struct {
	Key          string
	FencingToken int64

	svc      *LockService
	ownerID  string
	beat     time.Duration
	ch       chan Heartbeat
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// C returns the heartbeat channel.
func (l *Lease) C() <-chan Heartbeat {
	return l.ch
}

// Release ends the lease and frees the lock row.
func (l *Lease) Release() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// TryAcquire claims the lock without waiting. When the lock is already held
// it fails with ErrResourceExhausted.
func (s *LockService) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	if key == "" {
		return nil, apperrors.NewBadRequest("lock key is required")
	}

	token, ownerID, err := s.claim(ensureContext(ctx), key)
	if err != nil {
		return nil, err
	}
	return s.startLease(key, token, ownerID, s.slowBeat), nil
}

// Acquire claims the lock, waiting for the current holder to release or
// expire. It gives up only when ctx is cancelled.
func (s *LockService) Acquire(ctx context.Context, key string) (*Lease, error) {
	if key == "" {
		return nil, apperrors.NewBadRequest("lock key is required")
	}

	ctx = ensureContext(ctx)

	for {
		token, ownerID, err := s.claim(ctx, key)
		if err == nil {
			return s.startLease(key, token, ownerID, s.fastBeat), nil
		}

		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrResourceExhausted.Code {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(ctx.Err(), "lock acquisition cancelled")
		case <-time.After(s.fastBeat):
		}
	}
}

// CheckFencingToken reports whether the supplied token is the current one for
// the key. Unknown keys and superseded tokens are both stale.
func (s *LockService) CheckFencingToken(ctx context.Context, key string, token int64) (bool, error) {
	var lock models.Lock
	err := s.db.WithContext(ensureContext(ctx)).First(&lock, "id = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check fencing token: %w", err)
	}
	return lock.FencingToken == token, nil
}

// ReapExpired frees lock rows whose lease expired without a release, which
// happens when a holder crashes. Returns the number of reaped leases.
func (s *LockService) ReapExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Model(&models.Lock{}).
		Where("owner_id <> '' AND expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Updates(map[string]interface{}{"owner_id": "", "expires_at": nil})
	if result.Error != nil {
		return 0, fmt.Errorf("reap expired leases: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("reaped expired lock leases", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// claim takes ownership of the lock row and bumps the fencing token. The row
// is locked for the duration of the transaction, so the bump happens only in
// the session that won the claim: tokens increase by exactly one per
// successful acquisition, starting at 1.
func (s *LockService) claim(ctx context.Context, key string) (int64, string, error) {
	ownerID := uuid.NewString()
	var token int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lock models.Lock
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lock, "id = ?", key).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			expiry := time.Now().Add(s.leaseTTL)
			lock = models.Lock{
				ID:           key,
				FencingToken: 1,
				OwnerID:      ownerID,
				ExpiresAt:    &expiry,
			}
			if err := tx.Create(&lock).Error; err != nil {
				// Lost the creation race; the other session holds the lease.
				return apperrors.ErrResourceExhausted
			}
			token = lock.FencingToken
			return nil

		case err != nil:
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("load lock row: %w", err))
		}

		held := lock.OwnerID != "" && lock.ExpiresAt != nil && lock.ExpiresAt.After(time.Now())
		if held {
			return apperrors.ErrResourceExhausted
		}

		expiry := time.Now().Add(s.leaseTTL)
		lock.FencingToken++
		lock.OwnerID = ownerID
		lock.ExpiresAt = &expiry
		if err := tx.Save(&lock).Error; err != nil {
			return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("claim lock row: %w", err))
		}
		token = lock.FencingToken
		return nil
	})
	if err != nil {
		return 0, "", apperrors.FromError(err)
	}
	return token, ownerID, nil
}

func (s *LockService) startLease(key string, token int64, ownerID string, beat time.Duration) *Lease {
	lease := &Lease{
		Key:          key,
		FencingToken: token,
		svc:          s,
		ownerID:      ownerID,
		beat:         beat,
		ch:           make(chan Heartbeat, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	metrics.ActiveLeases.Inc()
	go lease.run()
	return lease
}

func (l *Lease) run() {
	defer func() {
		l.release()
		close(l.ch)
		close(l.done)
		metrics.ActiveLeases.Dec()
	}()

	ticker := time.NewTicker(l.beat)
	defer ticker.Stop()

	// First heartbeat confirms the grant immediately.
	l.emit()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if !l.renew() {
				l.svc.logger.Warn("lock lease lost", zap.String("key", l.Key))
				return
			}
			l.emit()
		}
	}
}

func (l *Lease) emit() {
	select {
	case l.ch <- Heartbeat{Key: l.Key, FencingToken: l.FencingToken}:
	default:
	}
}

// renew pushes the expiry forward. Zero rows affected means the sweeper or a
// competing claim took the row: the lease is gone.
func (l *Lease) renew() bool {
	expiry := time.Now().Add(l.svc.leaseTTL)
	result := l.svc.db.Model(&models.Lock{}).
		Where("id = ? AND owner_id = ?", l.Key, l.ownerID).
		Update("expires_at", expiry)
	if result.Error != nil {
		l.svc.logger.Error("lease renewal failed", zap.String("key", l.Key), zap.Error(result.Error))
		return false
	}
	return result.RowsAffected > 0
}

func (l *Lease) release() {
	err := l.svc.db.Model(&models.Lock{}).
		Where("id = ? AND owner_id = ?", l.Key, l.ownerID).
		Updates(map[string]interface{}{"owner_id": "", "expires_at": nil}).Error
	if err != nil {
		l.svc.logger.Error("lease release failed", zap.String("key", l.Key), zap.Error(err))
	}
}
