// Package shortcut 把按键映射为窗口动作，并对重复触发做防抖。
package shortcut

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultDebounce = 300 * time.Millisecond

// Action 为快捷键触发的窗口动作。
type Action string

const (
	ActionClose  Action = "close"
	ActionToggle Action = "toggle"
	ActionShow   Action = "show"
)

var ErrUnknownAction = errors.New("unknown shortcut action")

type Binding struct {
	Key    string
	Action Action
}

// DefaultBindings 对应桌面端的 Escape / Ctrl+M / Ctrl+N。
// 终端里 ctrl+m 等同于回车，因此切换使用 ctrl+t。
func DefaultBindings() []Binding {
	return []Binding{
		{Key: "esc", Action: ActionClose},
		{Key: "ctrl+t", Action: ActionToggle},
		{Key: "ctrl+n", Action: ActionShow},
	}
}

type Dispatcher struct {
	mu       sync.Mutex
	bindings map[string]Action
	handlers map[Action]func()
	last     map[Action]time.Time
	debounce time.Duration
	now      func() time.Time
}

func NewDispatcher(debounce time.Duration, bindings ...Binding) (*Dispatcher, error) {
	if debounce < 0 {
		debounce = 0
	}
	d := &Dispatcher{
		bindings: map[string]Action{},
		handlers: map[Action]func(){},
		last:     map[Action]time.Time{},
		debounce: debounce,
		now:      time.Now,
	}
	for _, b := range bindings {
		if err := d.Bind(b); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dispatcher) Bind(b Binding) error {
	switch b.Action {
	case ActionClose, ActionToggle, ActionShow:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, b.Action)
	}
	key := normalizeKey(b.Key)
	if key == "" {
		return errors.New("shortcut key is empty")
	}
	d.mu.Lock()
	d.bindings[key] = b.Action
	d.mu.Unlock()
	return nil
}

// On 注册动作处理函数。
func (d *Dispatcher) On(a Action, fn func()) {
	d.mu.Lock()
	d.handlers[a] = fn
	d.mu.Unlock()
}

// Dispatch 处理一次按键。返回触发的动作；未绑定或处于防抖窗口内时 ok 为 false。
//
// close 不做防抖。
func (d *Dispatcher) Dispatch(key string) (Action, bool) {
	d.mu.Lock()
	a, bound := d.bindings[normalizeKey(key)]
	if !bound {
		d.mu.Unlock()
		return "", false
	}
	now := d.now()
	if a != ActionClose && d.debounce > 0 {
		if last, ok := d.last[a]; ok && now.Sub(last) < d.debounce {
			d.mu.Unlock()
			return a, false
		}
	}
	d.last[a] = now
	fn := d.handlers[a]
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
	return a, true
}

func (d *Dispatcher) Bindings() []Binding {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Binding, 0, len(d.bindings))
	for k, a := range d.bindings {
		out = append(out, Binding{Key: k, Action: a})
	}
	return out
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
