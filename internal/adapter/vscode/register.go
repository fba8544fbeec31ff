package vscode

import "github.com/wilbur182/chatrelay/internal/adapter"

func init() {
	for _, p := range products {
		name := p.ID
		adapter.RegisterFactory(func() adapter.Source {
			return New(name)
		})
	}
}
