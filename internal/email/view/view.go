package view

import (
	"fmt"
	"io"
	"io/fs"
	"text/template"

	"github.com/willemschots/stockdigest/internal/email"
)

// View is a parsed email template. It defines a "subject" and a "body"
// block and optionally an "html" block.
type View struct {
	tmpl *template.Template
}

// Parse parses the file system and returns a view for the given name.
// fs is expected to contain *.tmpl files in the root directory.
func Parse(fs fs.FS, name string) (*View, error) {
	// names become filenames, refuse anything that could traverse directories.
	if err := validateName(name); err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s.tmpl", name)
	tmpl, err := template.New(name).ParseFS(fs, filename)
	if err != nil {
		return nil, err
	}

	for _, el := range []email.TemplateElement{email.ElementSubject, email.ElementBody} {
		if tmpl.Lookup(string(el)) == nil {
			return nil, fmt.Errorf("%w: %s in %s", email.ErrMissingElement, el, filename)
		}
	}

	return &View{
		tmpl: tmpl,
	}, nil
}

// Render executes a single element of the view.
// Optional elements that the view does not define result in email.ErrMissingElement.
func (v *View) Render(w io.Writer, element email.TemplateElement, data any) error {
	if v.tmpl.Lookup(string(element)) == nil {
		return fmt.Errorf("%w: %s", email.ErrMissingElement, element)
	}

	return v.tmpl.ExecuteTemplate(w, string(element), data)
}

// validateName checks if all characters are alphanumeric, dashes or underscores.
func validateName(name string) error {
	for _, c := range name {
		if !validViewRune(c) {
			return fmt.Errorf("invalid character %v in view name: %s", c, name)
		}
	}
	return nil
}

func validViewRune(r rune) bool {
	if r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
		return true
	}

	return false
}
