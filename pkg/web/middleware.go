package web

// MidFunc runs code before and/or after another handler.
type MidFunc func(handler HandlerFunc) HandlerFunc

// wrapMiddleware wraps handler so that mw[0] runs first.
func wrapMiddleware(mw []MidFunc, handler HandlerFunc) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		if mwFunc := mw[i]; mwFunc != nil {
			handler = mwFunc(handler)
		}
	}
	return handler
}
