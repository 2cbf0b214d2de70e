package updater

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// DefaultPath is the RESTCONF operation that updates a delegated LSP.
const DefaultPath = "/rests/operations/network-topology-pcep:update-lsp"

// DefaultTemplate renders an update-lsp input moving the LSP onto a
// two-hop explicit route through .Hop.
const DefaultTemplate = `<input xmlns="urn:opendaylight:params:xml:ns:yang:topology:pcep">
 <node>pcc://{{ .PCC }}</node>
 <name>pcc_{{ .PCC }}_tunnel_{{ .LSP }}</name>
 <network-topology-ref xmlns:topo="urn:TBD:params:xml:ns:yang:network-topology">/topo:network-topology/topo:topology[topo:topology-id="pcep-topology"]</network-topology-ref>
 <arguments>
  <lsp xmlns="urn:opendaylight:params:xml:ns:yang:pcep:ietf:stateful">
   <delegate>{{ .Delegate }}</delegate>
   <administrative>true</administrative>
  </lsp>
  <ero>
   <subobject>
    <loose>false</loose>
    <ip-prefix><ip-prefix>{{ .Hop }}</ip-prefix></ip-prefix>
   </subobject>
   <subobject>
    <loose>false</loose>
    <ip-prefix><ip-prefix>{{ .Destination | default "1.1.1.1/32" }}</ip-prefix></ip-prefix>
   </subobject>
  </ero>
 </arguments>
</input>
`

// parseTemplate compiles a request body template with the sprig function
// set. Missing keys are errors so a typo fails the run before any request.
func parseTemplate(text string) (*template.Template, error) {
	t, err := template.New("update").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse update template: %w", err)
	}
	return t, nil
}

func render(t *template.Template, j Job) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, j); err != nil {
		return nil, fmt.Errorf("render update for %s: %w", j, err)
	}
	return buf.Bytes(), nil
}
