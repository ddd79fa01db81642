/*
Package source provides the item sources a datatide call reads from.

A Source yields items one at a time:

	item, ok, err := src.Next(ctx)

ok is false once the source is exhausted. A non-nil err is terminal: the
call consuming the source ends with that error.

Sources:

	source.FromSlice(items)            // bounded
	source.FromChannel(ch)             // ends when ch is closed
	source.FromErrChannel(ch, errc)    // ends with the error sent on errc, if any
	source.Func(fn)                    // adapts a pull function
	source.NewPipe()                   // push-based: Write, Close, CloseWithError
	source.NewRedisStream(cfg)         // Redis Streams consumer (XREAD)

Close releases the source. Pipe writers blocked in Write are released with
errors.ErrClosed.
*/
package source
