package fixtures

import (
	"encoding/json"
	"errors"

	"github.com/lllypuk/fenrys/internal/domain/aggregate"
)

const (
	// AdderType is the type name of the Adder aggregate
	AdderType = "Adder"

	// EventAdding is recorded by Adder.Add
	EventAdding = "adding"

	// EventCleared is recorded by Adder.Clear
	EventCleared = "cleared"
)

// ErrNegativeNumber is returned by the adding handler for negative numbers.
var ErrNegativeNumber = errors.New("negative number")

// AddingPayload is the payload of the adding event.
type AddingPayload struct {
	Number int `json:"number"`
}

// Adder is a minimal aggregate keeping a running total.
type Adder struct {
	*aggregate.Root

	total int
	adds  int
}

// NewAdder creates an Adder with the given options.
func NewAdder(opts ...aggregate.Option) (*Adder, error) {
	a := &Adder{}

	opts = append([]aggregate.Option{aggregate.WithResetHook(a.reset)}, opts...)
	root, err := aggregate.New(AdderType, aggregate.Handlers{
		EventAdding:  aggregate.Decode(a.onAdding),
		EventCleared: a.onCleared,
	}, opts...)
	if err != nil {
		return nil, err
	}
	a.Root = root

	return a, nil
}

// MustNewAdder is like NewAdder but panics on error.
func MustNewAdder(opts ...aggregate.Option) *Adder {
	a, err := NewAdder(opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// Add records an adding event.
func (a *Adder) Add(n int) error {
	return a.Mutate(EventAdding, AddingPayload{Number: n})
}

// Clear records a cleared event.
func (a *Adder) Clear() error {
	return a.Mutate(EventCleared, struct{}{})
}

// Total returns the running total.
func (a *Adder) Total() int {
	var t int
	a.View(func() { t = a.total })
	return t
}

// Adds returns how many adding events were applied.
func (a *Adder) Adds() int {
	var n int
	a.View(func() { n = a.adds })
	return n
}

func (a *Adder) onAdding(p AddingPayload) error {
	if p.Number < 0 {
		return ErrNegativeNumber
	}
	a.total += p.Number
	a.adds++
	return nil
}

func (a *Adder) onCleared(json.RawMessage) error {
	a.total = 0
	return nil
}

func (a *Adder) reset() {
	a.total = 0
	a.adds = 0
}
