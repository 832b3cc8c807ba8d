package threatfeed

import "context"

// StaticSource serves a fixed AllowDenyLists value, useful when no
// external threat-intel collaborator is configured and the allow/deny
// lists come entirely from the static config file.
type StaticSource struct {
	Lists AllowDenyLists
}

func (s StaticSource) Fetch(context.Context) (*AllowDenyLists, error) {
	lists := s.Lists
	return &lists, nil
}
