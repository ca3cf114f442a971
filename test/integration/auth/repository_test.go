// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

//go:build integration

package auth_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/storefront/storeauth/internal/auth"
)

var _ = Describe("UserRepository", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx, env.pool)
	})

	It("assigns sequential ids", func() {
		a := createTestUser(ctx, "a@example.com", auth.StatusPending)
		b := createTestUser(ctx, "b@example.com", auth.StatusPending)
		Expect(a.ID).To(Equal(int64(1)))
		Expect(b.ID).To(Equal(int64(2)))
	})

	It("treats email uniqueness case-insensitively", func() {
		createTestUser(ctx, "alice@example.com", auth.StatusPending)

		dup := &auth.User{
			Email: "ALICE@example.com", PasswordHash: "x",
			IsActive: true, BackofficeStatus: auth.StatusPending,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		err := env.Users.Create(ctx, dup)
		Expect(errors.Is(err, auth.ErrConflict)).To(BeTrue())

		exists, err := env.Users.EmailExists(ctx, "Alice@Example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		got, err := env.Users.GetByEmail(ctx, "ALICE@EXAMPLE.COM")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Email).To(Equal("alice@example.com"))
	})

	It("replaces the stored record on update", func() {
		u := createTestUser(ctx, "carol@example.com", auth.StatusPending)
		status := auth.StatusApproved
		updated := u.Apply(auth.UserPatch{BackofficeStatus: &status, FirstName: ptr("Carol")}, time.Now())

		Expect(env.Users.Update(ctx, &updated)).To(Succeed())

		got, err := env.Users.GetByID(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.BackofficeStatus).To(Equal(auth.StatusApproved))
		Expect(got.FirstName).To(Equal("Carol"))
	})

	It("reports missing users as not found", func() {
		_, err := env.Users.GetByID(ctx, 999)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())

		ghost := auth.User{ID: 999, Email: "ghost@example.com", BackofficeStatus: auth.StatusPending}
		Expect(errors.Is(env.Users.Update(ctx, &ghost), auth.ErrNotFound)).To(BeTrue())
		Expect(errors.Is(env.Users.Delete(ctx, 999), auth.ErrNotFound)).To(BeTrue())
	})

	It("lists accounts by approval state, oldest first", func() {
		first := createTestUser(ctx, "first@example.com", auth.StatusPending)
		createTestUser(ctx, "approved@example.com", auth.StatusApproved)
		second := createTestUser(ctx, "second@example.com", auth.StatusPending)

		got, err := env.Users.ListByBackofficeStatus(ctx, auth.StatusPending, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].ID).To(Equal(first.ID))
		Expect(got[1].ID).To(Equal(second.ID))
	})

	It("cascades deletes to sessions and resets", func() {
		u := createTestUser(ctx, "dave@example.com", auth.StatusApproved)
		s, err := auth.NewUserSession(u.ID, auth.HashToken("tok"), "", "", time.Now().Add(time.Hour), time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Sessions.Create(ctx, s)).To(Succeed())
		r, err := auth.NewPasswordReset(u.ID, auth.HashToken("reset"), time.Now().Add(time.Hour), time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Resets.Create(ctx, r)).To(Succeed())

		Expect(env.Users.Delete(ctx, u.ID)).To(Succeed())

		_, err = env.Sessions.GetByTokenHash(ctx, auth.HashToken("tok"))
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		_, err = env.Resets.GetByTokenHash(ctx, auth.HashToken("reset"))
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("SessionRepository", func() {
	var (
		ctx  context.Context
		user *auth.User
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx, env.pool)
		user = createTestUser(ctx, "erin@example.com", auth.StatusApproved)
	})

	newSession := func(token string, expiresAt time.Time) *auth.UserSession {
		s, err := auth.NewUserSession(user.ID, auth.HashToken(token), "agent", "127.0.0.1", expiresAt, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Sessions.Create(ctx, s)).To(Succeed())
		return s
	}

	It("round-trips a session by token hash", func() {
		s := newSession("tok-1", time.Now().Add(time.Hour))

		got, err := env.Sessions.GetByTokenHash(ctx, auth.HashToken("tok-1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(s.ID))
		Expect(got.UserAgent).To(Equal("agent"))
		Expect(got.IPAddress).To(Equal("127.0.0.1"))
	})

	It("invalidate keeps the row but expires it", func() {
		s := newSession("tok-2", time.Now().Add(time.Hour))
		Expect(env.Sessions.Invalidate(ctx, s.ID)).To(Succeed())

		got, err := env.Sessions.GetByTokenHash(ctx, auth.HashToken("tok-2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsExpired()).To(BeTrue())

		active, err := env.Sessions.ListActiveByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeEmpty())
	})

	It("extends, counts and sweeps", func() {
		live := newSession("live", time.Now().Add(time.Hour))
		newSession("stale", time.Now().Add(-time.Minute))

		n, err := env.Sessions.CountActiveByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		Expect(env.Sessions.Extend(ctx, live.ID, time.Now().Add(48*time.Hour))).To(Succeed())

		deleted, err := env.Sessions.DeleteExpired(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(Equal(int64(1)))

		all, err := env.Sessions.ListByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
		Expect(all[0].ExpiresAt).To(BeTemporally(">", time.Now().Add(47*time.Hour)))
	})

	It("never shortens a session on extend", func() {
		s := newSession("long", time.Now().Add(48*time.Hour))

		Expect(env.Sessions.Extend(ctx, s.ID, time.Now().Add(time.Minute))).To(Succeed())

		got, err := env.Sessions.GetByTokenHash(ctx, auth.HashToken("long"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ExpiresAt).To(BeTemporally(">", time.Now().Add(47*time.Hour)))
	})

	It("does not revive invalidated or expired sessions", func() {
		revoked := newSession("revoked", time.Now().Add(time.Hour))
		Expect(env.Sessions.Invalidate(ctx, revoked.ID)).To(Succeed())
		stale := newSession("stale", time.Now().Add(-time.Minute))

		for _, id := range []ulid.ULID{revoked.ID, stale.ID} {
			err := env.Sessions.Extend(ctx, id, time.Now().Add(24*time.Hour))
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		}

		n, err := env.Sessions.CountActiveByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})

var _ = Describe("PasswordResetRepository", func() {
	var (
		ctx  context.Context
		user *auth.User
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx, env.pool)
		user = createTestUser(ctx, "frank@example.com", auth.StatusApproved)
	})

	It("consumes a reset exactly once under contention", func() {
		r, err := auth.NewPasswordReset(user.ID, auth.HashToken("secret"), time.Now().Add(time.Hour), time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Resets.Create(ctx, r)).To(Succeed())

		const workers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			won      int
			notFound int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := env.Resets.Consume(ctx, auth.HashToken("secret"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					won++
				case errors.Is(err, auth.ErrNotFound):
					notFound++
				}
			}()
		}
		wg.Wait()

		Expect(won).To(Equal(1))
		Expect(notFound).To(Equal(workers - 1))
	})

	It("sweeps only expired resets", func() {
		live, err := auth.NewPasswordReset(user.ID, auth.HashToken("live"), time.Now().Add(time.Hour), time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Resets.Create(ctx, live)).To(Succeed())

		stale := &auth.PasswordReset{
			ID: ulid.Make(), UserID: user.ID, TokenHash: auth.HashToken("stale"),
			ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now().Add(-time.Hour),
		}
		Expect(env.Resets.Create(ctx, stale)).To(Succeed())

		n, err := env.Resets.DeleteExpired(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		active, err := env.Resets.ListActiveByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(1))
		Expect(active[0].ID).To(Equal(live.ID))
	})
})

var _ = Describe("Transactor", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx, env.pool)
	})

	It("rolls back every write when fn fails", func() {
		u := createTestUser(ctx, "gina@example.com", auth.StatusApproved)
		boom := errors.New("boom")

		err := env.Tx.InTransaction(ctx, func(ctx context.Context) error {
			status := auth.StatusRejected
			updated := u.Apply(auth.UserPatch{BackofficeStatus: &status}, time.Now())
			if err := env.Users.Update(ctx, &updated); err != nil {
				return err
			}
			return boom
		})
		Expect(errors.Is(err, boom)).To(BeTrue())

		got, err := env.Users.GetByID(ctx, u.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.BackofficeStatus).To(Equal(auth.StatusApproved))
	})
})

func ptr[T any](v T) *T { return &v }
