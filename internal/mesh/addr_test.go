package mesh_test

import (
	"testing"

	"github.com/dantte-lp/etcmesh/internal/mesh"
)

func TestAddrString(t *testing.T) {
	t.Parallel()

	a := mesh.Addr{0x01, 0xff}
	if got, want := a.String(), "01:ff"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestAddrIsNull(t *testing.T) {
	t.Parallel()

	if !mesh.NullAddr.IsNull() {
		t.Error("NullAddr.IsNull() = false, want true")
	}
	if (mesh.Addr{0x00, 0x01}).IsNull() {
		t.Error("non-null address reported as null")
	}
}

func TestPutGetAddr(t *testing.T) {
	t.Parallel()

	a := mesh.Addr{0x12, 0x34}
	buf := make([]byte, mesh.AddrLen)
	mesh.PutAddr(buf, a)

	if got := mesh.GetAddr(buf); got != a {
		t.Errorf("GetAddr(PutAddr(a)) = %v, want %v", got, a)
	}
}

func TestDeriveRole(t *testing.T) {
	t.Parallel()

	controller := mesh.Addr{0x00, 0x01}
	sensors := []mesh.Addr{{0x00, 0x02}, {0x00, 0x03}}

	cases := []struct {
		name string
		self mesh.Addr
		want mesh.Role
	}{
		{"controller", controller, mesh.RoleController},
		{"sensor", sensors[0], mesh.RoleSensor},
		{"other sensor", sensors[1], mesh.RoleSensor},
		{"forwarder", mesh.Addr{0x00, 0x09}, mesh.RoleForwarder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mesh.DeriveRole(tc.self, controller, sensors); got != tc.want {
				t.Errorf("DeriveRole(%v) = %s, want %s", tc.self, got, tc.want)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	t.Parallel()

	cases := map[mesh.Role]string{
		mesh.RoleController: "controller",
		mesh.RoleSensor:     "sensor",
		mesh.RoleForwarder:  "forwarder",
	}
	for role, want := range cases {
		if got := role.String(); got != want {
			t.Errorf("Role(%d).String() = %q, want %q", role, got, want)
		}
	}
}
