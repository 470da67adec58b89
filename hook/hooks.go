package hook

import (
	"github.com/rs/zerolog/log"
)

// HookFunc is a runtime extension point. Deployments register overrides by
// key before any client is built; an absent hook is a no-op.
type HookFunc func(args ...any) any

var (
	Hooks       map[string]HookFunc = map[string]HookFunc{}
	EnableHooks                     = true
)

func HookExec[T any](key string, args ...any) *T {
	if !EnableHooks {
		log.Printf("🔌 Hooks are disabled, skip hook: %s", key)
		var zero *T
		return zero
	}
	if hook, exists := Hooks[key]; exists && hook != nil {
		log.Printf("🔌 Execute hook: %s", key)
		res := hook(args...)
		return res.(*T)
	} else {
		log.Printf("🔌 Do not find hook: %s", key)
	}
	var zero *T
	return zero
}

func RegisterHook(key string, hook HookFunc) {
	Hooks[key] = hook
}

// hook list
const (
	SET_HTTP_CLIENT = "SET_HTTP_CLIENT" // func (client *http.Client) *SetHttpClientResult
)
