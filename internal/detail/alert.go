package detail

import (
	"context"
	"fmt"
	"html/template"
	"net/http"

	"github.com/yairfalse/armoryx/internal/admin"
)

// alert renders a dismissible banner. Both strings are escaped.
func alert(level, title, message string) []byte {
	esc := template.HTMLEscapeString
	return fmt.Appendf(nil,
		`<div class="alert alert-%s" role="alert"><strong>%s</strong> %s</div>`,
		esc(level), esc(title), esc(message))
}

func forbidden(ctx context.Context) *Fragment {
	return &Fragment{
		Status: http.StatusForbidden,
		Body: alert("warning",
			admin.T(ctx, "Permission denied"),
			admin.T(ctx, "You do not have permission to view this object.")),
	}
}

func notFound(ctx context.Context, message string) *Fragment {
	return &Fragment{
		Status: http.StatusNotFound,
		Body:   alert("warning", admin.T(ctx, "Not found"), admin.T(ctx, message)),
	}
}

func serverError(ctx context.Context, message string) *Fragment {
	return &Fragment{
		Status: http.StatusInternalServerError,
		Body:   alert("danger", admin.T(ctx, "Server error"), message),
	}
}

// diagnostic reports both template failures.
func diagnostic(ctx context.Context, primary, form error) *Fragment {
	esc := template.HTMLEscapeString
	body := fmt.Appendf(nil,
		`<div class="alert alert-danger" role="alert"><strong>%s</strong>`+
			`<ul class="mb-0"><li>template: %s</li><li>form: %s</li></ul></div>`,
		esc(admin.T(ctx, "Unable to render this object.")),
		esc(primary.Error()),
		esc(form.Error()))
	return &Fragment{Status: http.StatusInternalServerError, Body: body}
}
