package logging

import "log/slog"

// Domain identifiers

func Conversation(id string) slog.Attr {
	return slog.String("conv_id", id)
}

func Principal(id string) slog.Attr {
	return slog.String("principal_id", id)
}

func Owner(id string) slog.Attr {
	return slog.String("owner_id", id)
}

func Member(id string) slog.Attr {
	return slog.String("member_id", id)
}

func Sender(id string) slog.Attr {
	return slog.String("sender_id", id)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}
