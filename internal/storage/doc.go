// Package storage keeps the chat registry: which chats talked to the bot.
//
// The responder records every /start and /id caller so an operator can list
// chat ids for CHAT_IDS without digging through logs. Delivery results are
// never stored.
//
// Drivers:
//   - "file": JSON Lines journal (last record per chat wins on replay)
//   - "sqlite": SQLite database via modernc.org/sqlite (pure Go, no cgo)
package storage
