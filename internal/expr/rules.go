package expr

import (
	"log/slog"
)

// CompileRules compiles each configured expression, dropping the ones that do
// not compile or do not return bool. Bad entries are warned about and skipped
// so one typo does not take the set down.
func CompileRules(env *Environment, sources []string, log *slog.Logger) []Program {
	programs := make([]Program, 0, len(sources))
	for _, src := range sources {
		program, err := env.Compile(src)
		if err != nil {
			log.Warn("dropping custom rule", slog.String("rule", src), slog.Any("error", err))
			continue
		}
		programs = append(programs, program)
	}
	return programs
}
