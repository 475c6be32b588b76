package translate

import (
	"context"
	"fmt"
)

// StubBackend echoes text tagged with the target language. It keeps local
// development and tests independent of any model.
type StubBackend struct{}

func (StubBackend) Translate(ctx context.Context, text, _, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}
