package supervisor

import (
	"fmt"
	"strings"

	"github.com/agentyes/agentyes/internal/toolprofile"
)

// workingIndicators are the known "still working" substrings (spec.md
// §4.10) that suppress an idle exit even after the configured window.
var workingIndicators = []string{
	"esc to interrupt",
	"to run in background",
}

// stillWorking reports whether the rendered transcript contains any
// working indicator, i.e. the assistant is visibly mid-task.
func stillWorking(renderedText string) bool {
	for _, indicator := range workingIndicators {
		if strings.Contains(renderedText, indicator) {
			return true
		}
	}
	return false
}

// buildArgs assembles the child's argument list per spec.md §4.10 steps
// 4-6: default-args prefix, then (if resuming) the resume argument, then
// (if the tool takes the prompt as an argument) the prompt itself. It
// returns the final args and the runtime prompt that remains to be sent
// over stdin (empty when the prompt was folded into args).
func buildArgs(p toolprofile.Profile, userArgs []string, prompt string, resumeSessionID string, resuming bool, useSkills bool) (args []string, remainingPrompt string, err error) {
	// useSkills folds p.UseSkillsArgs into the prefix (spec.md §6's
	// --use-skills flag), for tools with a flag that loads project/user
	// skill directories; a no-op for tools with none configured.
	prefix := append([]string{}, p.ArgsPrefix...)
	if useSkills {
		prefix = append(prefix, p.UseSkillsArgs...)
	}
	args = append(prefix, userArgs...)

	if resuming {
		if p.ResumeArgTemplate == "" {
			return nil, "", newErr(KindNoSessionToResume, fmt.Errorf("tool %q does not support resumption", p.Name))
		}
		if resumeSessionID == "" {
			return nil, "", newErr(KindNoSessionToResume, fmt.Errorf("no stored session for this directory"))
		}
		resumeArg := fmt.Sprintf(p.ResumeArgTemplate, resumeSessionID)
		args = append(strings.Fields(resumeArg), args...)
	}

	remainingPrompt = prompt
	if prompt != "" {
		switch p.PromptMode {
		case toolprofile.PromptFirstPositional:
			args = append([]string{prompt}, args...)
			remainingPrompt = ""
		case toolprofile.PromptLastPositional:
			args = append(args, prompt)
			remainingPrompt = ""
		case toolprofile.PromptNamedFlag:
			args = append(args, p.PromptFlag, prompt)
			remainingPrompt = ""
		}
	}

	return args, remainingPrompt, nil
}

// stripResumeFlags removes --continue/--resume (and any value that
// immediately follows --resume) from args, for the restart-without-
// continue respawn (spec.md §4.10, the "Restart-without-continue
// cleanup" law in §8).
func stripResumeFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--continue":
			continue
		case "--resume":
			i++ // also drop the id that follows, if any
			continue
		default:
			out = append(out, args[i])
		}
	}
	return out
}
