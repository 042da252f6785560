// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for streamchat.
//
// A single SQLite database (pure Go driver, WAL journal) holds two tables:
//
//   - security_events: the activity monitor's event log
//   - messages: the chat transcript, including feedback ratings
//
// # Usage
//
//	store, err := storage.Open(storage.DefaultPath())
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	monitor := security.NewActivityMonitor(security.WithEventSink(store))
//	ctl := session.New(session.Deps{Transport: client, Transcript: store}, cfg)
//
// # Storage Location
//
// The database lives in ~/.streamchat/streamchat.db unless configured
// otherwise.
package storage
