package command

import "sort"

var registry = map[string]Command{}

// Register adds a command with its middlewares applied, outermost last.
func Register(cmd Command, mws ...Middleware) {
	for _, mw := range mws {
		cmd = mw(cmd)
	}
	registry[cmd.Name()] = cmd
}

func Get(name string) (Command, bool) {
	cmd, ok := registry[name]
	return cmd, ok
}

// All returns the registered commands sorted by name.
func All() []Command {
	var list []Command
	for _, cmd := range registry {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}
