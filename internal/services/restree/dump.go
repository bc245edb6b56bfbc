package restree

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/asakaida/restree/internal/entities"
)

// Dump writes an indented listing of the subtree below node
func (s *Service) Dump(ctx context.Context, w io.Writer, node *entities.ResourceNode) error {
	return s.dump(ctx, w, node, 0)
}

func (s *Service) dump(ctx context.Context, w io.Writer, node *entities.ResourceNode, depth int) error {
	line := fmt.Sprintf("%s%s (id=%d, kind=%s", strings.Repeat("  ", depth), node.Name, node.ID, node.Kind.Name())
	if node.Iface != entities.IfaceNone {
		line += fmt.Sprintf(", iface=%s", node.Iface)
	}
	if _, err := fmt.Fprintln(w, line+")"); err != nil {
		return err
	}

	children, err := s.Children(ctx, node)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.dump(ctx, w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
