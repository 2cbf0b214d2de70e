package gobgp

import (
	"fmt"
	"slices"

	apipb "github.com/osrg/gobgp/v3/api"
)

// Family names an AFI/SAFI pair the way GoBGP's CLI does.
type Family string

// Address families exercised by the controller suites.
const (
	FamilyIPv4Unicast Family = "ipv4-unicast"
	FamilyIPv6Unicast Family = "ipv6-unicast"
	FamilyIPv4Labeled Family = "ipv4-labelled-unicast"
	FamilyL3VPNIPv4   Family = "l3vpn-ipv4-unicast"
	FamilyL2VPNEVPN   Family = "l2vpn-evpn"
	FamilyIPv4Flow    Family = "ipv4-flowspec"
	FamilyRTC         Family = "rtc"
	FamilyLinkState   Family = "ls"
)

type afiSafi struct {
	afi  apipb.Family_Afi
	safi apipb.Family_Safi
}

var families = map[Family]afiSafi{
	FamilyIPv4Unicast: {apipb.Family_AFI_IP, apipb.Family_SAFI_UNICAST},
	FamilyIPv6Unicast: {apipb.Family_AFI_IP6, apipb.Family_SAFI_UNICAST},
	FamilyIPv4Labeled: {apipb.Family_AFI_IP, apipb.Family_SAFI_MPLS_LABEL},
	FamilyL3VPNIPv4:   {apipb.Family_AFI_IP, apipb.Family_SAFI_MPLS_VPN},
	FamilyL2VPNEVPN:   {apipb.Family_AFI_L2VPN, apipb.Family_SAFI_EVPN},
	FamilyIPv4Flow:    {apipb.Family_AFI_IP, apipb.Family_SAFI_FLOW_SPEC_UNICAST},
	FamilyRTC:         {apipb.Family_AFI_IP, apipb.Family_SAFI_ROUTE_TARGET_CONSTRAINTS},
	FamilyLinkState:   {apipb.Family_AFI_LS, apipb.Family_SAFI_LS},
}

// ParseFamily validates a family name.
func ParseFamily(s string) (Family, error) {
	f := Family(s)
	if _, ok := families[f]; !ok {
		return "", fmt.Errorf("%w: %q (known: %v)", ErrUnknownFamily, s, Families())
	}
	return f, nil
}

// Families returns the known family names, sorted.
func Families() []Family {
	out := make([]Family, 0, len(families))
	for f := range families {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func (f Family) api() (*apipb.Family, error) {
	as, ok := families[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, string(f))
	}
	return &apipb.Family{Afi: as.afi, Safi: as.safi}, nil
}

func familyFromAPI(f *apipb.Family) (Family, bool) {
	if f == nil {
		return "", false
	}
	for name, as := range families {
		if as.afi == f.GetAfi() && as.safi == f.GetSafi() {
			return name, true
		}
	}
	return "", false
}
