package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uclllabs/sasm-dns/internal/reconcile"
)

func TestSelectPasses(t *testing.T) {
	tests := []struct {
		name    string
		only    []string
		skip    bool
		want    []reconcile.Pass
		wantErr bool
	}{
		{name: "all", want: reconcile.AllPasses},
		{name: "skip cleanup", skip: true, want: []reconcile.Pass{reconcile.PassZones, reconcile.PassDelegation, reconcile.PassPTR}},
		{name: "only ptr", only: []string{"PTR"}, want: []reconcile.Pass{reconcile.PassPTR}},
		{name: "only cleanup skipped", only: []string{"cleanup"}, skip: true, wantErr: true},
		{name: "unknown pass", only: []string{"glue"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectPasses(tt.only, tt.skip)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArpaCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"arpa", "193.191.176.5", "2001:6a8:2880:a020::5"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t,
		"193.191.176.5\t5.176.191.193.in-addr.arpa\n"+
			"2001:6a8:2880:a020::5\t5.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.2.0.a.0.8.8.2.8.a.6.0.1.0.0.2.ip6.arpa\n",
		out.String())
}

func TestArpaCommand_InvalidAddress(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"arpa", "193.191.176.256"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil); rootCmd.SetErr(nil) })

	require.Error(t, rootCmd.Execute())
}
