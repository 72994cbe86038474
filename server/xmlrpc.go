package server

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// A minimal XML-RPC endpoint. Old installer tooling uses it to enumerate
// packages; only the two read methods those tools call are implemented.

type methodCall struct {
	XMLName    xml.Name      `xml:"methodCall"`
	MethodName string        `xml:"methodName"`
	Params     []methodParam `xml:"params>param"`
}

type methodParam struct {
	Value paramValue `xml:"value"`
}

type paramValue struct {
	String string `xml:"string"`
	Raw    string `xml:",chardata"` // a bare <value> with no type element
}

func (v paramValue) text() string {
	if v.String != "" {
		return v.String
	}
	return strings.TrimSpace(v.Raw)
}

// XMLRPCHandler answers XML-RPC method calls posted to the index root.
func (s *RESTServer) XMLRPCHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var call methodCall
	if err := xml.NewDecoder(r.Body).Decode(&call); err != nil {
		writeFault(w, 400, "cannot parse method call")
		return
	}
	switch call.MethodName {
	case "list_packages":
		names, err := s.Index.DB.ListPackages()
		if err != nil {
			writeFault(w, 500, err.Error())
			return
		}
		writeStringArray(w, names)
	case "package_releases":
		if len(call.Params) == 0 {
			writeFault(w, 400, "package_releases needs a package name")
			return
		}
		name := call.Params[0].Value.text()
		var versions []string
		if pkg := s.Index.DB.SearchPackage(name); pkg != nil {
			for _, rel := range pkg.Releases {
				versions = append(versions, rel.Version)
			}
		}
		writeStringArray(w, versions)
	default:
		log.Printf("xmlrpc: unknown method %q", call.MethodName)
		writeFault(w, 1, fmt.Sprintf("method %q is not supported", call.MethodName))
	}
}

func writeStringArray(w http.ResponseWriter, values []string) {
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\"?>\n")
	buf.WriteString("<methodResponse><params><param><value><array><data>")
	for _, v := range values {
		buf.WriteString("<value><string>")
		xml.EscapeText(&buf, []byte(v))
		buf.WriteString("</string></value>")
	}
	buf.WriteString("</data></array></value></param></params></methodResponse>\n")
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write(buf.Bytes())
}

func writeFault(w http.ResponseWriter, code int, msg string) {
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\"?>\n")
	buf.WriteString("<methodResponse><fault><value><struct>")
	fmt.Fprintf(&buf, "<member><name>faultCode</name><value><int>%d</int></value></member>", code)
	buf.WriteString("<member><name>faultString</name><value><string>")
	xml.EscapeText(&buf, []byte(msg))
	buf.WriteString("</string></value></member>")
	buf.WriteString("</struct></value></fault></methodResponse>\n")
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write(buf.Bytes())
}
