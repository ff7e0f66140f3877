package api

import "github.com/cin-tie/remote-shell/pkg/api/handlers"

// Response is the envelope of every admin API response.
type Response = handlers.Response
