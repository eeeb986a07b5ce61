// Package hl7 provides the minimal structured HL7 v2 model the dispatch
// layer needs: pipe-delimited parsing and encoding, MSH header access
// (version, structure name, control ID), and ACK construction.
//
// It is deliberately not a full HL7 v2 grammar. Segments are shredded into
// fields and components without escape-sequence processing or per-version
// schemas; that is enough to route messages to transaction handlers and to
// build acknowledgements, which is all this layer requires.
package hl7
