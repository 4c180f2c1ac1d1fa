// Package chat holds the gorm repositories for chats, chat nodes, speakers and settings.
//
// Every method takes a dbctx.Context and runs on its Tx when one is present, so services can
// compose several repo calls inside one transaction.
package chat
