package unitname

import "strings"

// Template describes the decomposition of a unit name into its
// template-prefix, optional instance, and suffix: "foo@bar.service" is
// (prefix="foo", instance="bar", suffix=".service").
type Template struct {
	Prefix   string
	Instance string // empty for a template itself, e.g. "foo@.service"
	Suffix   string
}

// IsTemplate reports whether t names a template rather than an instance
// (foo@.service, no instance part).
func (t Template) IsTemplate() bool {
	return t.Instance == ""
}

// String reassembles the decomposed name.
func (t Template) String() string {
	if t.Instance == "" {
		return t.Prefix + "@" + t.Suffix
	}
	return t.Prefix + "@" + t.Instance + t.Suffix
}

// Decompose splits name into a Template. ok is false if name has no '@' or
// no recognized suffix.
func Decompose(name string) (tmpl Template, ok bool) {
	suffix, ok := Suffix(name)
	if !ok {
		return Template{}, false
	}
	base := name[:len(name)-len(suffix)]
	at := strings.IndexByte(base, '@')
	if at < 0 {
		return Template{}, false
	}
	return Template{
		Prefix:   base[:at],
		Instance: base[at+1:],
		Suffix:   suffix,
	}, true
}

// Instantiate composes a template name ("foo@.service") with a specific
// instance, producing "foo@instance.service". Instantiate(TemplateName(name),
// instance) equals name whenever name is that template instance.
func Instantiate(templateName, instance string) (string, error) {
	tmpl, ok := Decompose(templateName)
	if !ok {
		return "", &InvalidNameError{Name: templateName}
	}
	tmpl.Instance = instance
	return tmpl.String(), nil
}

// TemplateName strips the instance off name, returning the bare template
// form ("foo@.service"). ok is false if name is not a template instance.
func TemplateName(name string) (string, bool) {
	tmpl, ok := Decompose(name)
	if !ok || tmpl.IsTemplate() {
		return "", false
	}
	tmpl.Instance = ""
	return tmpl.String(), true
}

// InvalidNameError is returned when a unit name cannot be parsed as a
// template.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return "unitname: not a valid template name: " + e.Name
}

// Specifiers holds the substitution values used when expanding the
// printf-style directives (description, user, environment, exec argv, ...)
// permitted by fragment loading. Naming mirrors the source format: i/I is
// the instance raw/unescaped-as-path, n/N is the full unit name with/without
// suffix, p/P is the template prefix raw/unescaped-as-path.
type Specifiers struct {
	Instance     string // %i
	InstancePath string // %I
	Name         string // %n
	NameNoSuffix string // %N
	Prefix       string // %p
	PrefixPath   string // %P
}

// SpecifiersFor builds the Specifiers table for a loaded unit name.
func SpecifiersFor(name string) Specifiers {
	suffix, _ := Suffix(name)
	nameNoSuffix := strings.TrimSuffix(name, suffix)

	s := Specifiers{
		Name:         name,
		NameNoSuffix: nameNoSuffix,
	}

	if tmpl, ok := Decompose(name); ok {
		s.Instance = tmpl.Instance
		s.InstancePath = Unescape(tmpl.Instance)
		s.Prefix = tmpl.Prefix
		s.PrefixPath = Unescape(tmpl.Prefix)
	} else {
		s.Prefix = nameNoSuffix
		s.PrefixPath = Unescape(nameNoSuffix)
	}
	return s
}

// Expand substitutes %i %I %n %N %p %P %% tokens in a printf-style
// directive value. Unknown %-sequences are passed through unchanged, the
// way an unrecognized conversion in a format string is left alone rather
// than rejected, so a stray '%' in a description doesn't become fatal.
func (s Specifiers) Expand(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] != '%' || i+1 >= len(value) {
			b.WriteByte(value[i])
			continue
		}
		switch value[i+1] {
		case 'i':
			b.WriteString(s.Instance)
		case 'I':
			b.WriteString(s.InstancePath)
		case 'n':
			b.WriteString(s.Name)
		case 'N':
			b.WriteString(s.NameNoSuffix)
		case 'p':
			b.WriteString(s.Prefix)
		case 'P':
			b.WriteString(s.PrefixPath)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(value[i+1])
		}
		i++
	}
	return b.String()
}
