// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

//go:build integration

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/storefront/storeauth/internal/auth"
)

var _ = Describe("Service", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx, env.pool)
	})

	register := func(email, password string) *auth.AuthResult {
		res, err := env.Service.Register(ctx, auth.RegisterInput{
			Email: email, Password: password, FirstName: "Alice", LastName: "Smith",
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	login := func(email, password string) (*auth.AuthResult, error) {
		return env.Service.Login(ctx, auth.LoginInput{Email: email, Password: password})
	}

	It("walks an account from registration through a password reset", func() {
		reg := register("alice@example.com", "Secret123")
		Expect(reg.User.BackofficeStatus).To(Equal(auth.StatusPending))

		exists, err := env.Service.EmailExists(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		_, err = login("alice@example.com", "Secret123")
		Expect(errors.Is(err, auth.ErrAuthentication)).To(BeTrue())
		Expect(auth.PublicMessage(err)).To(Equal("access pending"))

		_, err = env.Service.ApproveAccess(ctx, reg.User.ID)
		Expect(err).NotTo(HaveOccurred())

		first, err := login("alice@example.com", "Secret123")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Token).NotTo(BeEmpty())

		claims, err := env.Service.VerifyToken(first.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.UserID).To(Equal(reg.User.ID))
		Expect(claims.Email).To(Equal("alice@example.com"))

		ticket, err := env.Service.RequestReset(ctx, "alice@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(env.Service.ConfirmReset(ctx, ticket.Token, "NewSecret456")).To(Succeed())

		_, err = login("alice@example.com", "Secret123")
		Expect(auth.KindOf(err)).To(Equal(auth.KindAuthentication))
		Expect(auth.PublicMessage(err)).To(Equal("invalid credentials"))

		_, err = login("alice@example.com", "NewSecret456")
		Expect(err).NotTo(HaveOccurred())

		_, err = env.Service.ValidateSession(ctx, first.Token)
		Expect(errors.Is(err, auth.ErrInvalidToken)).To(BeTrue(), "sessions from before the reset are gone")

		Expect(errors.Is(env.Service.ConfirmReset(ctx, ticket.Token, "Another789"), auth.ErrInvalidToken)).
			To(BeTrue(), "reset tokens are single use")
	})

	It("rejects duplicate registrations regardless of case", func() {
		register("bob@example.com", "Secret123")

		_, err := env.Service.Register(ctx, auth.RegisterInput{Email: "BOB@example.com", Password: "Secret123"})
		Expect(errors.Is(err, auth.ErrConflict)).To(BeTrue())
	})

	It("lets exactly one of two concurrent confirmations win", func() {
		reg := register("carol@example.com", "Secret123")
		ticket, err := env.Service.RequestReset(ctx, "carol@example.com")
		Expect(err).NotTo(HaveOccurred())

		const attempts = 2
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				errs[i] = env.Service.ConfirmReset(ctx, ticket.Token, "Parallel-pw-1")
			}()
		}
		wg.Wait()

		var ok, rejected int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, auth.ErrInvalidToken):
				rejected++
			}
		}
		Expect(ok).To(Equal(1))
		Expect(rejected).To(Equal(1))

		n, err := env.Resets.CountActiveByUser(ctx, reg.User.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("keeps only the newest reset token", func() {
		reg := register("dan@example.com", "Secret123")

		old, err := env.Service.RequestReset(ctx, "dan@example.com")
		Expect(err).NotTo(HaveOccurred())
		_, err = env.Service.RequestReset(ctx, "dan@example.com")
		Expect(err).NotTo(HaveOccurred())

		n, err := env.Resets.CountActiveByUser(ctx, reg.User.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		Expect(errors.Is(env.Service.ConfirmReset(ctx, old.Token, "Whatever99"), auth.ErrInvalidToken)).To(BeTrue())
	})

	It("revokes every session on password change", func() {
		reg := register("erin@example.com", "Secret123")
		_, err := env.Service.ApproveAccess(ctx, reg.User.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = login("erin@example.com", "Secret123")
		Expect(err).NotTo(HaveOccurred())

		Expect(env.Service.ChangePassword(ctx, reg.User.ID, "Secret123", "Changed-456")).To(Succeed())

		sessions, err := env.Service.ListSessions(ctx, reg.User.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(BeEmpty())

		_, err = env.Codec.Verify(reg.Token)
		Expect(err).NotTo(HaveOccurred(), "bearer tokens stay cryptographically valid")
		_, err = env.Service.ValidateSession(ctx, reg.Token)
		Expect(errors.Is(err, auth.ErrInvalidToken)).To(BeTrue())
	})

	It("blocks rejected accounts and reverses on approval", func() {
		reg := register("fay@example.com", "Secret123")

		_, err := env.Service.RejectAccess(ctx, reg.User.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = login("fay@example.com", "Secret123")
		Expect(auth.PublicMessage(err)).To(Equal("access rejected"))

		_, err = env.Service.ApproveAccess(ctx, reg.User.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = login("fay@example.com", "Secret123")
		Expect(err).NotTo(HaveOccurred())
	})

	It("keeps both writes when approval and a password change race", func() {
		const rounds = 5
		for i := range rounds {
			email := fmt.Sprintf("race%d@example.com", i)
			reg := register(email, "Secret123")

			var wg sync.WaitGroup
			var approveErr, changeErr error
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, approveErr = env.Service.ApproveAccess(ctx, reg.User.ID)
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				changeErr = env.Service.ChangePassword(ctx, reg.User.ID, "Secret123", "Raced-pw-99")
			}()
			wg.Wait()
			Expect(approveErr).NotTo(HaveOccurred())
			Expect(changeErr).NotTo(HaveOccurred())

			p, err := env.Service.GetUser(ctx, reg.User.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.BackofficeStatus).To(Equal(auth.StatusApproved), "approval survives the password change")

			_, err = login(email, "Raced-pw-99")
			Expect(err).NotTo(HaveOccurred(), "new password survives the approval")
		}
	})

	It("sweeps expired sessions", func() {
		reg := register("gus@example.com", "Secret123")
		Expect(env.Service.Logout(ctx, reg.Token)).To(Succeed())

		res, err := env.Service.SweepExpired(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Sessions).To(Equal(int64(1)))
	})
})
