package permission

import "strings"

// splitCommand splits a shell command line into simple commands on the
// control operators ;, &, &&, |, || and newlines. Operators inside single or
// double quotes are ignored. Empty segments are dropped.
func splitCommand(cmd string) []string {
	var (
		segments []string
		cur      strings.Builder
		quote    rune
		escaped  bool
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	runes := []rune(cmd)
	for i, c := range runes {
		if escaped {
			cur.WriteRune(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\' && quote != '\'':
			cur.WriteRune(c)
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
			cur.WriteRune(c)
		case c == '\'' || c == '"':
			quote = c
			cur.WriteRune(c)
		case c == '&' && isRedirectAmp(runes, i):
			cur.WriteRune(c)
		case c == ';' || c == '&' || c == '|' || c == '\n':
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()

	return segments
}

// isRedirectAmp reports whether the & at runes[i] belongs to a redirection
// such as 2>&1 or &>file rather than being a control operator.
func isRedirectAmp(runes []rune, i int) bool {
	if i > 0 && (runes[i-1] == '>' || runes[i-1] == '<') {
		return true
	}
	return i+1 < len(runes) && runes[i+1] == '>'
}

// normalizeCommand collapses runs of unquoted blanks (spaces and tabs) into a
// single space and trims the result, so "git\t push" compares equal to
// "git push". Quoted text and escaped characters are left untouched.
func normalizeCommand(cmd string) string {
	var (
		b       strings.Builder
		quote   rune
		escaped bool
		blank   bool
	)
	for _, c := range strings.TrimSpace(cmd) {
		if escaped {
			b.WriteRune(c)
			escaped = false
			continue
		}
		if quote == 0 && (c == ' ' || c == '\t') {
			blank = true
			continue
		}
		if blank {
			b.WriteByte(' ')
			blank = false
		}
		switch {
		case c == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		}
		b.WriteRune(c)
	}
	return b.String()
}

// commandFields tokenizes a simple command on whitespace, keeping quoted
// strings together and stripping the quotes.
func commandFields(segment string) []string {
	var (
		fields  []string
		cur     strings.Builder
		quote   rune
		escaped bool
		inField bool
	)

	for _, c := range segment {
		if escaped {
			cur.WriteRune(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\' && quote != '\'':
			escaped = true
			inField = true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inField = true
		case c == ' ' || c == '\t':
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteRune(c)
			inField = true
		}
	}
	if inField {
		fields = append(fields, cur.String())
	}

	return fields
}

// hasUnquoted reports whether any of the given substrings occurs outside quotes.
func hasUnquoted(cmd string, needles ...string) bool {
	var (
		plain strings.Builder
		quote rune
	)
	for _, c := range cmd {
		switch {
		case quote == '\'':
			if c == quote {
				quote = 0
			}
		case c == '\'':
			quote = c
		default:
			// Double quotes still expand $( and backticks, so keep their content.
			if c == '"' {
				continue
			}
			plain.WriteRune(c)
		}
	}
	s := plain.String()
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// readOnlyPrograms never modify state regardless of their arguments.
var readOnlyPrograms = map[string]bool{
	"cat":      true,
	"cd":       true,
	"date":     true,
	"df":       true,
	"du":       true,
	"echo":     true,
	"file":     true,
	"grep":     true,
	"head":     true,
	"ls":       true,
	"pwd":      true,
	"rg":       true,
	"stat":     true,
	"tail":     true,
	"tree":     true,
	"uname":    true,
	"wc":       true,
	"which":    true,
	"whoami":   true,
	"basename": true,
	"dirname":  true,
	"realpath": true,
}

// readOnlyGit lists git subcommands that only inspect the repository.
var readOnlyGit = map[string]bool{
	"status":    true,
	"log":       true,
	"diff":      true,
	"show":      true,
	"blame":     true,
	"rev-parse": true,
	"ls-files":  true,
}

// findWriteFlags turn find into a mutating command.
var findWriteFlags = map[string]bool{
	"-delete":  true,
	"-exec":    true,
	"-execdir": true,
	"-ok":      true,
	"-okdir":   true,
	"-fprint":  true,
	"-fprintf": true,
	"-fls":     true,
}

// isReadOnlyCommand reports whether every simple command in cmd is known not
// to modify the system. Output redirection and command substitution make a
// command non-read-only.
func isReadOnlyCommand(cmd string) bool {
	if strings.TrimSpace(cmd) == "" {
		return false
	}
	if hasUnquoted(cmd, ">", "$(", "`") {
		return false
	}

	segments := splitCommand(cmd)
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if !isReadOnlySegment(commandFields(seg)) {
			return false
		}
	}
	return true
}

func isReadOnlySegment(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	prog := fields[0]
	switch {
	case readOnlyPrograms[prog]:
		return true
	case prog == "git":
		return len(fields) > 1 && readOnlyGit[fields[1]]
	case prog == "find":
		for _, f := range fields[1:] {
			if findWriteFlags[f] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
