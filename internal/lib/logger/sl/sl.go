package sl

import (
	"log/slog"
)

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

func Op(op string) slog.Attr {
	return slog.String("op", op)
}

func UserID(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}
