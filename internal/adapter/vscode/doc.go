// Package vscode reads the chat sessions that VS Code family editors keep
// under workspaceStorage/<hash>/chatSessions and turns them into the
// normalized adapter model.
//
// Response items are classified into a closed set of variants. Items of an
// unrecognized kind are not an error: a plain string value they carry is
// kept as text, and every occurrence is counted in InboxStats so format
// changes upstream show up instead of silently dropping content.
package vscode
