package version

import "fmt"

// Значения подставляются при сборке через -ldflags "-X ...".
var (
	number  = "dev"
	commit  = "none"
	builtAt = "unknown"
)

// Build описывает сборку бинарника.
type Build struct {
	Number  string
	Commit  string
	BuiltAt string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Number: number, Commit: commit, BuiltAt: builtAt}
}

// String — краткая строка для логов и health-ответов.
func String() string {
	return fmt.Sprintf("version=%s commit=%s built=%s", number, commit, builtAt)
}
