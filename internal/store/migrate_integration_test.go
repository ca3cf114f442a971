// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/storefront/storeauth/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = migrator.Close() })
	})

	It("starts at version zero", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
	})

	It("applies every migration", func() {
		Expect(migrator.Up()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(3)))
		Expect(dirty).To(BeFalse())

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("steps down and up again", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(3)))
	})

	It("rolls everything back and reapplies", func() {
		Expect(migrator.Down()).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())

		Expect(migrator.Up()).To(Succeed())
	})

	It("enforces case-insensitive email uniqueness", func() {
		ctx := context.Background()
		pool, err := store.Connect(ctx, store.PoolConfig{URL: connStr, ConnectTimeout: 5 * time.Second}, nil)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		_, err = pool.Exec(ctx, `INSERT INTO users (email, password_hash) VALUES ('dup@example.com', 'h')`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `INSERT INTO users (email, password_hash) VALUES ('DUP@example.com', 'h')`)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Connect", func() {
	It("fails fast on an empty URL", func() {
		_, err := store.Connect(context.Background(), store.PoolConfig{}, nil)
		Expect(err).To(HaveOccurred())
	})

	It("gives up after the configured attempts", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := store.Connect(ctx, store.PoolConfig{
			URL:            "postgres://nobody@127.0.0.1:1/none?sslmode=disable",
			ConnectTimeout: 200 * time.Millisecond,
			MaxAttempts:    2,
			InitialBackoff: 10 * time.Millisecond,
		}, nil)
		Expect(err).To(HaveOccurred())
	})
})
