// Package vpp loads the DER and VPP program registries and matches
// categorized household devices against program eligibility rules.
package vpp

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/communalgrid/communalgrid/pkg/log"
	"github.com/communalgrid/communalgrid/pkg/types"
)

//go:embed data/*.json
var defaultData embed.FS

const (
	defaultDERFile = "data/der_registry.json"
	defaultVPPFile = "data/vpp_registry.json"
)

// Registry is an immutable snapshot of the DER types and VPP programs. A
// reload builds a new Registry rather than modifying an existing one.
type Registry struct {
	ders []types.DEREntry
	vpps []types.VPPEntry
}

// NewRegistry returns a registry holding copies of ders and vpps.
func NewRegistry(ders []types.DEREntry, vpps []types.VPPEntry) *Registry {
	return &Registry{
		ders: append([]types.DEREntry(nil), ders...),
		vpps: append([]types.VPPEntry(nil), vpps...),
	}
}

// DERs returns every DER type in registry order.
func (r *Registry) DERs() []types.DEREntry {
	return append([]types.DEREntry(nil), r.ders...)
}

// VPPs returns every program, active or not, in registry order.
func (r *Registry) VPPs() []types.VPPEntry {
	return append([]types.VPPEntry(nil), r.vpps...)
}

// DER returns the DER type with the given id.
func (r *Registry) DER(id string) (types.DEREntry, bool) {
	for _, d := range r.ders {
		if d.ID == id {
			return d, true
		}
	}
	return types.DEREntry{}, false
}

// VPP returns the program with the given id.
func (r *Registry) VPP(id string) (types.VPPEntry, bool) {
	for _, v := range r.vpps {
		if v.ID == id {
			return v, true
		}
	}
	return types.VPPEntry{}, false
}

// DERsForCategories returns the DER types mapped to any of the categories,
// without duplicates, in the order the categories are given.
func (r *Registry) DERsForCategories(categories ...types.DeviceCategory) []types.DEREntry {
	seen := make(map[string]struct{})
	var out []types.DEREntry
	for _, c := range categories {
		for _, d := range r.ders {
			if d.HADeviceCategory != c {
				continue
			}
			if _, ok := seen[d.ID]; ok {
				continue
			}
			seen[d.ID] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// VPPCompatible returns the DER types that can take part in a VPP.
func (r *Registry) VPPCompatible() []types.DEREntry {
	var out []types.DEREntry
	for _, d := range r.ders {
		if d.VPPCompatible {
			out = append(out, d)
		}
	}
	return out
}

// VPPsForRegion returns the active programs serving the region.
func (r *Registry) VPPsForRegion(region types.Region) []types.VPPEntry {
	var out []types.VPPEntry
	for _, v := range r.vpps {
		if v.IsActive() && v.ServesRegion(region) {
			out = append(out, v)
		}
	}
	return out
}

// VPPsForDERType returns the active programs with a rule for the DER type.
func (r *Registry) VPPsForDERType(derType string) []types.VPPEntry {
	var out []types.VPPEntry
	for _, v := range r.vpps {
		if v.IsActive() && v.SupportsDERType(derType) {
			out = append(out, v)
		}
	}
	return out
}

// Match runs Match against the registry's contents.
func (r *Registry) Match(ctx context.Context, devices []types.CategorizedDevice, region types.Region) []types.MatchResult {
	return Match(ctx, devices, r.ders, r.vpps, region)
}

// DecodeDERs reads a DER registry file ({"der_types": [...]}). Entries
// missing required fields are logged and skipped.
func DecodeDERs(ctx context.Context, rd io.Reader) ([]types.DEREntry, error) {
	var file struct {
		DERTypes []json.RawMessage `json:"der_types"`
	}
	if err := json.NewDecoder(rd).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode der registry: %w", err)
	}

	out := make([]types.DEREntry, 0, len(file.DERTypes))
	for i, raw := range file.DERTypes {
		var d types.DEREntry
		err := json.Unmarshal(raw, &d)
		if err == nil {
			err = validateDER(d)
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(
				ctx,
				"skipping invalid der registry entry",
				slog.Int("index", i),
				slog.String("id", d.ID),
				slog.Any("error", err),
			)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func validateDER(d types.DEREntry) error {
	switch {
	case d.ID == "":
		return fmt.Errorf("missing id")
	case d.Name == "":
		return fmt.Errorf("missing name")
	case d.HADomain == "":
		return fmt.Errorf("missing ha_domain")
	case d.HADeviceCategory == "":
		return fmt.Errorf("missing ha_device_category")
	}
	return nil
}

// DecodeVPPs reads a VPP registry file ({"vpps": [...]}). Entries missing
// required fields are logged and skipped. Regions without utilities serve
// every utility and rewards default to USD.
func DecodeVPPs(ctx context.Context, rd io.Reader) ([]types.VPPEntry, error) {
	var file struct {
		VPPs []json.RawMessage `json:"vpps"`
	}
	if err := json.NewDecoder(rd).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode vpp registry: %w", err)
	}

	out := make([]types.VPPEntry, 0, len(file.VPPs))
	for i, raw := range file.VPPs {
		var v types.VPPEntry
		err := json.Unmarshal(raw, &v)
		if err == nil {
			err = validateVPP(v)
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(
				ctx,
				"skipping invalid vpp registry entry",
				slog.Int("index", i),
				slog.String("id", v.ID),
				slog.Any("error", err),
			)
			continue
		}
		for j := range v.Regions {
			if len(v.Regions[j].Utilities) == 0 {
				v.Regions[j].Utilities = []string{types.Wildcard}
			}
		}
		if v.Reward.Currency == "" {
			v.Reward.Currency = "USD"
		}
		out = append(out, v)
	}
	return out, nil
}

func validateVPP(v types.VPPEntry) error {
	switch {
	case v.ID == "":
		return fmt.Errorf("missing id")
	case v.Name == "":
		return fmt.Errorf("missing name")
	case v.Provider == "":
		return fmt.Errorf("missing provider")
	case v.Reward.Type == "":
		return fmt.Errorf("missing reward type")
	}
	for _, r := range v.Regions {
		if strings.TrimSpace(r.State) == "" {
			return fmt.Errorf("region missing state")
		}
	}
	for _, sd := range v.SupportedDevices {
		if sd.DERType == "" {
			return fmt.Errorf("supported device missing der_type")
		}
		if strings.TrimSpace(sd.Manufacturer) == "" {
			return fmt.Errorf("supported device missing manufacturer")
		}
		switch sd.Mode() {
		case types.MatchExact, types.MatchPrefix, types.MatchWildcard:
		default:
			return fmt.Errorf("unknown match mode %q", sd.Match)
		}
	}
	return nil
}

// DefaultRegistry returns the registry bundled with the binary.
func DefaultRegistry(ctx context.Context) (*Registry, error) {
	return LoadRegistry(ctx, "", "")
}

// LoadRegistry loads the DER and VPP registries from the given files. An
// empty path selects the bundled file.
func LoadRegistry(ctx context.Context, derPath, vppPath string) (*Registry, error) {
	derFile, err := openData(derPath, defaultDERFile)
	if err != nil {
		return nil, err
	}
	defer derFile.Close()
	ders, err := DecodeDERs(ctx, derFile)
	if err != nil {
		return nil, err
	}

	vppFile, err := openData(vppPath, defaultVPPFile)
	if err != nil {
		return nil, err
	}
	defer vppFile.Close()
	vpps, err := DecodeVPPs(ctx, vppFile)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"loaded registries",
		slog.Int("ders", len(ders)),
		slog.Int("vpps", len(vpps)),
	)
	return &Registry{ders: ders, vpps: vpps}, nil
}

func openData(path, fallback string) (io.ReadCloser, error) {
	if path == "" {
		f, err := defaultData.Open(fallback)
		if err != nil {
			return nil, fmt.Errorf("failed to open bundled %s: %w", fallback, err)
		}
		return f, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry file %s: %w", path, err)
	}
	return f, nil
}
