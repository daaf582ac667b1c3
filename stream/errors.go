package stream

import "errors"

var (
	ErrBlocked   = errors.New("blocked by Cloudflare challenge; try with --cookies and --user-agent")
	ErrForbidden = errors.New("forbidden; try with --cookies and --user-agent")
	ErrNotFound  = errors.New("not found (404)")
)
