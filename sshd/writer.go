package sshd

import "io"

// StringWriter is how commands talk back to the user.
type StringWriter interface {
	WriteLine(string) error
	Write(string) error
	WriteBytes([]byte) error
	GetWriter() io.Writer
}

// lineWriter ends every line with eol. The terminal translates newlines on its
// own, a raw channel under an attached console needs "\r\n".
type lineWriter struct {
	w   io.Writer
	eol string
}

func newLineWriter(w io.Writer, eol string) *lineWriter {
	return &lineWriter{w: w, eol: eol}
}

func (w *lineWriter) WriteLine(s string) error {
	return w.Write(s + w.eol)
}

func (w *lineWriter) Write(s string) error {
	return w.WriteBytes([]byte(s))
}

func (w *lineWriter) WriteBytes(b []byte) error {
	_, err := w.w.Write(b)
	return err
}

func (w *lineWriter) GetWriter() io.Writer {
	return w.w
}
