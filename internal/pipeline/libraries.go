package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"corrector/internal/apperrors"
	"corrector/internal/tools"
)

// Library roles as printed by the store introspection tool.
const (
	roleCorrect   = "correct"
	roleReference = "reference"
)

// Libraries is the classification of the read store's libraries: exactly
// one library holds the reads being corrected, the rest are the reference
// reads the overlapper hashes against it.
type Libraries struct {
	Target     int    // index of the library to correct
	TargetName string // its name, used to tag the final output
	RefLo      int    // first reference library index
	RefHi      int    // last reference library index
}

// classifyLibraries reads the store's library table and derives the
// overlap ranges. The tool prints one line per library:
//
//	<index>\t<name>\t<correct|reference>
//
// The overlapper takes a single contiguous reference range, so the target
// library must sit before or after all references, never between them.
func classifyLibraries(ctx context.Context, toolSet *tools.Set, store string) (*Libraries, error) {
	out, err := tools.Output(ctx, "classify", toolSet.StoreInfo, "-libinfo", store)
	if err != nil {
		return nil, err
	}
	return parseLibraries(out)
}

func parseLibraries(out string) (*Libraries, error) {
	libs := &Libraries{Target: -1}
	var refs []int

	for lineNo, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, apperrors.Validation("libraries",
				fmt.Sprintf("malformed library line %d: %q", lineNo+1, line))
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, apperrors.Validation("libraries",
				fmt.Sprintf("malformed library index on line %d: %q", lineNo+1, fields[0]))
		}

		switch fields[2] {
		case roleCorrect:
			if libs.Target >= 0 {
				return nil, apperrors.Validation("libraries",
					"more than one library is marked for correction")
			}
			libs.Target = index
			libs.TargetName = fields[1]
		case roleReference:
			refs = append(refs, index)
		default:
			return nil, apperrors.Validation("libraries",
				fmt.Sprintf("unknown library role %q on line %d", fields[2], lineNo+1))
		}
	}

	if libs.Target < 0 {
		return nil, apperrors.Validation("libraries", "no library is marked for correction")
	}
	if len(refs) == 0 {
		return nil, apperrors.Validation("libraries", "no reference libraries in store")
	}

	sort.Ints(refs)
	for i := 1; i < len(refs); i++ {
		if refs[i] != refs[i-1]+1 {
			return nil, apperrors.Validation("libraries",
				fmt.Sprintf("reference libraries are not contiguous: %v", refs))
		}
	}
	libs.RefLo = refs[0]
	libs.RefHi = refs[len(refs)-1]

	if libs.Target > libs.RefLo && libs.Target < libs.RefHi {
		return nil, apperrors.Validation("libraries",
			fmt.Sprintf("correction library %d sits between references %d-%d",
				libs.Target, libs.RefLo, libs.RefHi))
	}

	return libs, nil
}
