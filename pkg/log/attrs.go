package log

import "log/slog"

func ExecutionID[T ~string](id T) slog.Attr {
	return slog.String("execution_id", string(id))
}

func Program[T ~string](name T) slog.Attr {
	return slog.String("program", string(name))
}

func StepName[T ~string](name T) slog.Attr {
	return slog.String("step", string(name))
}

func Label[T ~string](label T) slog.Attr {
	return slog.String("label", string(label))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Token[T ~string](token T) slog.Attr {
	return slog.String("token", string(token))
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
