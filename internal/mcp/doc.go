// Package mcp exposes the dispatch gate as an MCP tool server.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers one tool per gate operation, named chainguard_<operation>. Every
// call goes through gate.Dispatcher.Dispatch, so scope gating, the context canary
// and error mapping behave the same as for the chainguard call command.
package mcp
