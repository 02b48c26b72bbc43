package registry

import "fmt"

// UnknownVariant is substituted when a build unit is announced without an
// output format. Hosts that only build one artifact per package never name
// their formats, and those units still need distinct, stable identifiers.
const UnknownVariant = "unknown"

// BuildID identifies a single build unit: one logical package (the group)
// producing one output format (the variant). Two units with the same group
// may build in parallel; units from different groups gate on each other.
//
// BuildID is comparable and is used directly as a map key. Group equality
// is structural: "pack" and "package" are different groups even though one
// is a prefix of the other.
type BuildID struct {
	Group   string
	Variant string
}

// NewBuildID builds an identifier from a package name and an output format.
// An empty format is mapped to UnknownVariant so every unit has a non-empty
// variant.
func NewBuildID(group, variant string) BuildID {
	if variant == "" {
		variant = UnknownVariant
	}
	return BuildID{Group: group, Variant: variant}
}

// String renders the canonical "<group>-<variant>" form used in logs, the
// journal and console output. The rendered form is for display only;
// identity lives in the struct fields.
func (id BuildID) String() string {
	return fmt.Sprintf("%s-%s", id.Group, id.Variant)
}

// SameGroup reports whether other belongs to the same logical package.
func (id BuildID) SameGroup(other BuildID) bool {
	return id.Group == other.Group
}
