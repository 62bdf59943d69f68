// Copyright (C) 2021  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package locking implements a persisted mutual-exclusion token, that coordinates concurrent
// invocations of the same job across processes. Liveness is determined by heartbeat recency,
// not by process existence, so a crashed holder expires on its own.
package locking

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/rundbrief/internal/crypto"
	"github.com/lukasdietrich/rundbrief/internal/database"
	"github.com/lukasdietrich/rundbrief/internal/log"
	"github.com/lukasdietrich/rundbrief/internal/models"
)

func init() {
	viper.SetDefault("lock.staleafter", "600s")
}

var (
	// ErrLockHeld is returned by Acquire when a live holder exists and force is false.
	ErrLockHeld = errors.New("locking: already held by a live process")
)

// Lock is a held process lock. The token identifies this holder and becomes non-live when
// another process force-acquires the same name.
type Lock struct {
	Name  string
	token string
}

// Locker acquires and maintains process locks.
type Locker struct {
	conn       database.Conn
	lockDao    database.ProcessLockDao
	tokenGen   crypto.TokenGenerator
	staleAfter time.Duration
	clock      func() time.Time
}

// NewLocker creates a new Locker using configuration from viper.
//
// `lock.staleafter` is the duration after which a heartbeat no longer counts as live.
func NewLocker(
	conn database.Conn,
	lockDao database.ProcessLockDao,
	tokenGen crypto.TokenGenerator,
) *Locker {
	return &Locker{
		conn:       conn,
		lockDao:    lockDao,
		tokenGen:   tokenGen,
		staleAfter: viper.GetDuration("lock.staleafter"),
		clock:      time.Now,
	}
}

// Acquire tries to take the lock with the given name. If a live holder exists, ErrLockHeld is
// returned unless force is true, in which case the existing holder is preempted and its token
// invalidated.
func (l *Locker) Acquire(ctx context.Context, name string, force bool) (*Lock, error) {
	token, err := l.tokenGen.GenerateToken()
	if err != nil {
		return nil, err
	}

	now := l.clock().Unix()
	entity := models.ProcessLockEntity{
		Name:          name,
		Token:         token,
		StartedAt:     now,
		LastHeartbeat: now,
	}

	err = l.lockDao.Insert(ctx, l.conn, &entity)
	if err == nil {
		log.DebugContext(ctx).Str("lock", name).Msg("lock acquired")
		return &Lock{Name: name, token: token}, nil
	}

	if !database.IsErrUnique(err) {
		return nil, err
	}

	existing, err := l.lockDao.FindByName(ctx, l.conn, name)
	if err != nil {
		return nil, err
	}

	stale := existing.LastHeartbeat < now-int64(l.staleAfter.Seconds())

	if !stale && !force {
		return nil, ErrLockHeld
	}

	if !stale {
		log.WarnContext(ctx).
			Str("lock", name).
			Int64("heldSince", existing.StartedAt).
			Msg("preempting live lock holder")
	}

	if err := l.lockDao.Replace(ctx, l.conn, &entity); err != nil {
		return nil, err
	}

	return &Lock{Name: name, token: token}, nil
}

// IsAlive reports whether the lock is still held by this holder.
func (l *Locker) IsAlive(ctx context.Context, lock *Lock) (bool, error) {
	existing, err := l.lockDao.FindByName(ctx, l.conn, lock.Name)
	if err != nil {
		if database.IsErrNoRows(err) {
			return false, nil
		}

		return false, err
	}

	return existing.Token == lock.token, nil
}

// Heartbeat bumps the holder heartbeat. A database.IsErrNoRows error signals that the lock
// was lost to a forced acquisition.
func (l *Locker) Heartbeat(ctx context.Context, lock *Lock) error {
	return l.lockDao.UpdateHeartbeat(ctx, l.conn, lock.Name, lock.token, l.clock().Unix())
}

// Release gives the lock up. Releasing an already lost lock is not an error, so Release is
// safe to defer on every exit path.
func (l *Locker) Release(ctx context.Context, lock *Lock) error {
	err := l.lockDao.DeleteByToken(ctx, l.conn, lock.Name, lock.token)
	if err != nil && !database.IsErrNoRows(err) {
		return err
	}

	log.DebugContext(ctx).Str("lock", lock.Name).Msg("lock released")
	return nil
}
