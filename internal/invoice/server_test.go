package invoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zinto/invoice-tracker/internal/extraction"
)

// mockSyncer is a mock implementation of Syncer
type mockSyncer struct {
	count int
	err   error
	calls int
}

func (m *mockSyncer) Run(ctx context.Context) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.count, nil
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		service     *Service
		syncer      *mockSyncer
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	newService := func(db *mockDB) *Service {
		return NewServiceWithDeps(
			db,
			&mockExtractor{result: &extraction.InvoiceData{
				VendorName:  "Acme Corp",
				TotalAmount: 5000,
				DueDate:     "2024-08-01",
			}},
			newMockStorage(),
			Defaults{},
			&stubIDGenerator{id: "generated-id"},
			&stubTimeSource{now: time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)},
		)
	}

	BeforeEach(func() {
		db = newMockDB()
		service = newService(db)
		syncer = &mockSyncer{count: 3}
		auth = BasicAuth{}
		server = NewServerWithMux(service, syncer, auth, http.NewServeMux())
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("should return the dashboard HTML", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Invoice Tracker"))
		})
	})

	Describe("handleListInvoices", func() {
		When("invoices exist", func() {
			BeforeEach(func() {
				db.invoices["id1"] = &Invoice{ID: "id1", VendorName: "Acme", Status: StatusPending}
				db.invoices["id2"] = &Invoice{ID: "id2", VendorName: "Globex", Status: StatusPaid}
				db.invoices["id3"] = &Invoice{ID: "id3", VendorName: "Initech", Status: StatusDeleted}
			})

			It("should return only non-deleted invoices", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var invoices []*Invoice
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &invoices)).NotTo(HaveOccurred())
				Expect(invoices).To(HaveLen(2))
			})
		})

		When("no invoices exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var invoices []*Invoice
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &invoices)).NotTo(HaveOccurred())
				Expect(invoices).To(BeEmpty())
			})
		})

		When("the store returns an error", func() {
			BeforeEach(func() {
				db.listInvoicesErr = errors.New("database error")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleUploadInvoice", func() {
		uploadRequest := func(filename string) (*http.Response, error) {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, _ := writer.CreateFormFile("file", filename)
			part.Write([]byte("fake document data"))
			writer.Close()
			return http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), &b)
		}

		When("upload succeeds", func() {
			It("should return the created invoice", func() {
				resp, err := uploadRequest("invoice.pdf")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var inv Invoice
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &inv)).NotTo(HaveOccurred())
				Expect(inv.ID).To(Equal("generated-id"))
				Expect(inv.Status).To(Equal(StatusPending))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				service = NewServiceWithDeps(
					db,
					&mockExtractor{err: errors.New("model unavailable")},
					newMockStorage(),
					Defaults{},
					&stubIDGenerator{id: "generated-id"},
					&stubTimeSource{now: time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)},
				)
				server = NewServerWithMux(service, syncer, auth, http.NewServeMux())
				setupServer()
			})

			It("should return the error in JSON", func() {
				resp, err := uploadRequest("invoice.pdf")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var response map[string]string
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &response)).NotTo(HaveOccurred())
				Expect(response["error"]).To(ContainSubstring("model unavailable"))
			})
		})
	})

	Describe("handleSetStatus", func() {
		patchStatus := func(id string, body string) (*http.Response, error) {
			req, err := http.NewRequest("PATCH", ghttpServer.URL()+"/api/invoices/"+id+"/status", bytes.NewBufferString(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			return http.DefaultClient.Do(req)
		}

		BeforeEach(func() {
			db.invoices["inv-1"] = &Invoice{ID: "inv-1", Status: StatusPending}
		})

		When("marking an invoice paid", func() {
			It("should return the invoice with a payment date", func() {
				resp, err := patchStatus("inv-1", `{"status":"PAID"}`)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var inv Invoice
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &inv)).NotTo(HaveOccurred())
				Expect(inv.Status).To(Equal(StatusPaid))
				Expect(inv.PaymentDate).To(Equal("2024-07-15"))
			})
		})

		When("the invoice does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := patchStatus("nonexistent", `{"status":"PAID"}`)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})

		When("the transition is invalid", func() {
			It("should return status Bad Request", func() {
				resp, err := patchStatus("inv-1", `{"status":"DELETED"}`)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the body is not JSON", func() {
			It("should return status Bad Request", func() {
				resp, err := patchStatus("inv-1", "not json")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleDeleteInvoice", func() {
		BeforeEach(func() {
			db.invoices["inv-1"] = &Invoice{ID: "inv-1", Status: StatusPending}
		})

		When("deletion succeeds", func() {
			It("should return status No Content and keep the record", func() {
				req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/invoices/inv-1", nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(db.invoices["inv-1"].Status).To(Equal(StatusDeleted))
			})
		})

		When("the invoice does not exist", func() {
			It("should return status Not Found", func() {
				req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/invoices/nonexistent", nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleRunSync", func() {
		When("the run succeeds", func() {
			It("should return the processed count", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var response map[string]int
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, &response)).NotTo(HaveOccurred())
				Expect(response["processed_count"]).To(Equal(3))
				Expect(syncer.calls).To(Equal(1))
			})

			It("should promote overdue invoices afterwards", func() {
				db.invoices["late"] = &Invoice{ID: "late", Status: StatusPending, DueDate: "2024-01-01"}
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(db.invoices["late"].Status).To(Equal(StatusOverdue))
			})
		})

		When("a run is already in progress", func() {
			BeforeEach(func() {
				syncer.err = ErrSyncRunning
			})

			It("should return status Conflict", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				resp.Body.Close()
			})
		})

		When("the run fails", func() {
			BeforeEach(func() {
				syncer.err = errors.New("folder registry unavailable")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sync", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("folder endpoints", func() {
		Describe("handleAddFolder", func() {
			It("should create the folder", func() {
				body := bytes.NewBufferString(`{"name":"Invoices 2024","folder_id":"drive-1"}`)
				resp, err := http.Post(ghttpServer.URL()+"/api/folders", "application/json", body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var folder DriveFolder
				data, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(json.Unmarshal(data, &folder)).NotTo(HaveOccurred())
				Expect(folder.Enabled).To(BeTrue())
			})

			When("the name is missing", func() {
				It("should return status Bad Request", func() {
					body := bytes.NewBufferString(`{"folder_id":"drive-1"}`)
					resp, err := http.Post(ghttpServer.URL()+"/api/folders", "application/json", body)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
					resp.Body.Close()
				})
			})
		})

		Describe("handleUpdateFolder", func() {
			BeforeEach(func() {
				db.folders["f1"] = &DriveFolder{ID: "f1", Name: "F1", FolderID: "drive-1", Enabled: true}
			})

			It("should toggle the enabled flag", func() {
				req, err := http.NewRequest("PATCH", ghttpServer.URL()+"/api/folders/f1", bytes.NewBufferString(`{"enabled":false}`))
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(db.folders["f1"].Enabled).To(BeFalse())
			})

			When("the folder does not exist", func() {
				It("should return status Not Found", func() {
					req, err := http.NewRequest("PATCH", ghttpServer.URL()+"/api/folders/nonexistent", bytes.NewBufferString(`{"enabled":false}`))
					Expect(err).NotTo(HaveOccurred())
					resp, err := http.DefaultClient.Do(req)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
					resp.Body.Close()
				})
			})
		})

		Describe("handleDeleteFolder", func() {
			BeforeEach(func() {
				db.folders["f1"] = &DriveFolder{ID: "f1"}
			})

			It("should return status No Content", func() {
				req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/folders/f1", nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(db.folders).To(BeEmpty())
			})

			When("the folder does not exist", func() {
				It("should return status Not Found", func() {
					req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/folders/nonexistent", nil)
					Expect(err).NotTo(HaveOccurred())
					resp, err := http.DefaultClient.Do(req)
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
					resp.Body.Close()
				})
			})
		})
	})

	Describe("authenticate", func() {
		When("no auth is configured", func() {
			It("should allow the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("valid credentials are provided", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				server = NewServerWithMux(service, syncer, auth, http.NewServeMux())
				setupServer()
			})

			It("should allow the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/", nil)
				Expect(err).NotTo(HaveOccurred())
				credentials := base64.StdEncoding.EncodeToString([]byte("user:pass"))
				req.Header.Set("Authorization", "Basic "+credentials)
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("invalid credentials are provided", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				server = NewServerWithMux(service, syncer, auth, http.NewServeMux())
				setupServer()
			})

			It("should reject the request with status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})
	})
})
