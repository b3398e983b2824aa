// Package lde implements the LDP label distribution engine (RFC 5036).
//
// This includes the FEC database, per-neighbor label state, the mapping,
// request, release and withdraw procedures (RFC 5036 Appendix A) for liberal
// label retention with downstream-unsolicited advertisement, the MP2MP
// extension (RFC 6388), the LIB garbage collector and the single-threaded
// event loop that serializes all of the above.
package lde
