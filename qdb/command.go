package qdb

import (
	"fmt"
	"maps"

	"github.com/pg-sharding/bulkload/pkg/loadlog"
)

// Command is a reversible mutation of MemQDB state.
type Command interface {
	Do() error
	Undo() error
}

func NewDeleteCommand[K comparable, T any](m map[K]T, key K) *DeleteCommand[K, T] {
	return &DeleteCommand[K, T]{m: m, key: key}
}

type DeleteCommand[K comparable, T any] struct {
	m       map[K]T
	key     K
	value   T
	present bool
}

func (c *DeleteCommand[K, T]) Do() error {
	c.value, c.present = c.m[c.key]
	delete(c.m, c.key)
	return nil
}

func (c *DeleteCommand[K, T]) Undo() error {
	if c.present {
		c.m[c.key] = c.value
	}
	return nil
}

func NewUpdateCommand[K comparable, T any](m map[K]T, key K, value T) *UpdateCommand[K, T] {
	return &UpdateCommand[K, T]{m: m, key: key, value: value}
}

type UpdateCommand[K comparable, T any] struct {
	m         map[K]T
	key       K
	value     T
	prevValue T
	present   bool
}

func (c *UpdateCommand[K, T]) Do() error {
	c.prevValue, c.present = c.m[c.key]
	c.m[c.key] = c.value
	return nil
}

func (c *UpdateCommand[K, T]) Undo() error {
	if !c.present {
		delete(c.m, c.key)
	} else {
		c.m[c.key] = c.prevValue
	}
	return nil
}

// NewDropWhereCommand removes every entry matching pred.
func NewDropWhereCommand[K comparable, T any](m map[K]T, pred func(K, T) bool) *DropWhereCommand[K, T] {
	return &DropWhereCommand[K, T]{m: m, pred: pred}
}

type DropWhereCommand[K comparable, T any] struct {
	m       map[K]T
	pred    func(K, T) bool
	removed map[K]T
}

func (c *DropWhereCommand[K, T]) Do() error {
	c.removed = make(map[K]T)
	for k, v := range c.m {
		if c.pred(k, v) {
			c.removed[k] = v
		}
	}
	for k := range c.removed {
		delete(c.m, k)
	}
	return nil
}

func (c *DropWhereCommand[K, T]) Undo() error {
	maps.Copy(c.m, c.removed)
	return nil
}

func NewCustomCommand(do func() error, undo func() error) *CustomCommand {
	return &CustomCommand{do: do, undo: undo}
}

type CustomCommand struct {
	do   func() error
	undo func() error
}

func (c *CustomCommand) Do() error {
	return c.do()
}

func (c *CustomCommand) Undo() error {
	return c.undo()
}

func doCommands(commands ...Command) (int, error) {
	for i, c := range commands {
		if err := c.Do(); err != nil {
			return i, err
		}
	}
	return len(commands), nil
}

// undoCommands reverts in reverse order so stacked updates of one key
// restore the oldest value.
func undoCommands(commands ...Command) error {
	loadlog.Zero.Info().Int("commands", len(commands)).Msg("memqdb: undo commands")
	for i := len(commands) - 1; i >= 0; i-- {
		if err := commands[i].Undo(); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteCommands applies commands and persists the result with saver.
// On any failure the already applied commands are rolled back.
func ExecuteCommands(saver func() error, commands ...Command) error {
	completed, err := doCommands(commands...)
	if err == nil {
		err = saver()
	}
	if err != nil {
		undoErr := undoCommands(commands[:completed]...)
		if undoErr != nil {
			return fmt.Errorf("failed to undo command %s while: %s", undoErr.Error(), err.Error())
		}
		return err
	}
	return nil
}
