package encoder

import "github.com/wakafine/ticketqr/ticket"

func ticketFixture() ticket.Ticket {
	return ticket.Ticket{
		PNR:           "K7Q2ZP4M",
		PassengerName: "Mohamed Sesay",
		Origin:        "Freetown",
		Destination:   "Kenema",
		TravelDate:    "Apr 02, 2025",
		TravelTime:    "06:45",
		BusName:       "Waka Express 7",
		SeatNumber:    "3B",
		AmountPaid:    320,
		PaymentMethod: "Afrimoney",
		Status:        "Confirmed",
	}
}
