package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/RichardoC/localchat/internal/llm"
)

// Diagnose explains a model initialization failure with a hint matching
// its cause.
func Diagnose(w io.Writer, err error, model, baseURL string) {
	fmt.Fprintln(w, errorStyle.Render("Error: "+err.Error()))

	kind := llm.InitOther
	var initErr *llm.InitError
	if errors.As(err, &initErr) {
		kind = initErr.Kind
	}

	switch kind {
	case llm.InitConnectionRefused:
		fmt.Fprintln(w, infoStyle.Render("Could not reach the model server at "+baseURL+"."))
		fmt.Fprintln(w, infoStyle.Render("Make sure it is running, e.g. with `ollama serve`."))
	case llm.InitModelNotFound:
		fmt.Fprintln(w, infoStyle.Render(fmt.Sprintf("Model %q is not available on the server.", model)))
		fmt.Fprintln(w, infoStyle.Render(fmt.Sprintf("Download it with `ollama pull %s`.", model)))
	default:
		fmt.Fprintln(w, infoStyle.Render("Check the model settings in your configuration file."))
	}
}
